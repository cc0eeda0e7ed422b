package model

import "time"

// Judgment is one version of the persona's judgment about a subject.
type Judgment struct {
	SubjectRef        string    `json:"subject_ref"`
	Label             string    `json:"label"`
	Confidence        float64   `json:"confidence"`
	Rationale         string    `json:"rationale,omitempty"`
	EvidenceRefs      []string  `json:"evidence_refs"`
	Version           int       `json:"version"`
	Active            bool      `json:"active"`
	SupersedesVersion *int      `json:"supersedes_version"`
	CreatedAt         time.Time `json:"created_at"`
}
