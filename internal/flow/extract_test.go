package flow

import (
	"testing"

	"github.com/BTreeMap/ClassAssist/internal/models"
)

func TestExtractClassInfoStructured(t *testing.T) {
	in := &models.ClassDescriptor{Class: "6", Section: "a", Date: "2025-01-15"}
	got, src, ok := ExtractClassInfo(in, "", "")
	if !ok || src != SourceStructured {
		t.Fatalf("expected structured extraction, got %v %v", src, ok)
	}
	want := models.ClassDescriptor{Class: "6", Section: "A", Date: "2025-01-15"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestExtractClassInfoFallbackChain(t *testing.T) {
	tests := []struct {
		name       string
		structured *models.ClassDescriptor
		answer     string
		utterance  string
		want       models.ClassDescriptor
		source     ExtractionSource
	}{
		{
			name:       "incomplete structured falls through to answer",
			structured: &models.ClassDescriptor{Class: "7"},
			answer:     "**Class:** 7, **Section:** b, **Date:** 2025-02-01",
			want:       models.ClassDescriptor{Class: "7", Section: "B", Date: "2025-02-01"},
			source:     SourceAnswer,
		},
		{
			name:      "nursery with trailing section letter and spelled date",
			utterance: "Mark attendance for Class NURSERY B for 5 August 2025",
			want:      models.ClassDescriptor{Class: "NURSERY", Section: "B", Date: "5 August 2025"},
			source:    SourceUtterance,
		},
		{
			name:      "grade synonym with section keyword",
			utterance: "attendance of grade 4 section c on 12/08/2025",
			want:      models.ClassDescriptor{Class: "4", Section: "C", Date: "12/08/2025"},
			source:    SourceUtterance,
		},
		{
			name:      "standalone capital section and relative date",
			utterance: "ukg attendance, section is D, today",
			want:      models.ClassDescriptor{Class: "UKG", Section: "D", Date: "today"},
			source:    SourceUtterance,
		},
		{
			name:      "month first date",
			utterance: "std 9 a August 5, 2025",
			want:      models.ClassDescriptor{Class: "9", Section: "A", Date: "August 5, 2025"},
			source:    SourceUtterance,
		},
		{
			name:      "whole sentence pattern",
			utterance: "class 10 e for the first monday",
			want:      models.ClassDescriptor{Class: "10", Section: "E", Date: "the first monday"},
			source:    SourceSentence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src, ok := ExtractClassInfo(tt.structured, tt.answer, tt.utterance)
			if !ok {
				t.Fatalf("expected extraction to succeed")
			}
			if got != tt.want || src != tt.source {
				t.Errorf("expected %+v from %s, got %+v from %s", tt.want, tt.source, got, src)
			}
		})
	}
}

func TestExtractClassInfoFailure(t *testing.T) {
	if _, _, ok := ExtractClassInfo(nil, "Which class is this for?", "take attendance please"); ok {
		t.Error("expected extraction to fail without class details")
	}
}
