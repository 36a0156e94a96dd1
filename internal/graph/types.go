package graph

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the node label of a graph entity.
type Kind string

// Node kinds stored in the knowledge graph.
const (
	KindTopic    Kind = "topic"
	KindDocument Kind = "document"
	KindSection  Kind = "section"
	KindExercise Kind = "exercise"
)

// Student is identified by their legajo (enrollment number).
// Students are created lazily on first contact.
type Student struct {
	Legajo string
}

// Topic is a unit of study. The embedding is attached by loading tools
// and used to resolve free-text topic hints.
type Topic struct {
	ID        string
	Name      string
	Embedding []float32
}

// Document is study material belonging to exactly one Topic.
type Document struct {
	ID        string
	Name      string
	Content   string
	TopicID   string
	Embedding []float32
}

// Section is a fragment of a Document. DocumentName is populated on reads
// that join the owning document, for use as a source title.
type Section struct {
	ID           string
	Content      string
	DocumentID   string
	DocumentName string
	Embedding    []float32
}

// Exercise is a practice task with a reference answer and a difficulty
// in [0,1], belonging to exactly one Topic.
type Exercise struct {
	ID         string
	Task       string
	Answer     string
	Difficulty float64
	TopicID    string
	Embedding  []float32
}

// StudySession groups the activity of one student on one day.
type StudySession struct {
	ID        string
	Legajo    string
	StartedAt time.Time
}

// Answer records one graded response. Immutable once created.
type Answer struct {
	ID         uuid.UUID
	ExerciseID string
	SessionID  string
	Content    string
	Confidence float64
	CreatedAt  time.Time
}

// KnowledgeRow is one (topic, level) entry of a student's knowledge report.
type KnowledgeRow struct {
	TopicID   string
	TopicName string
	Level     float64
}

// ActivityRow aggregates a student's study activity for one topic.
type ActivityRow struct {
	TopicID         string
	TopicName       string
	Sessions        int
	Answers         int
	AvgConfidence   float64
	CorrectnessRate float64
	LastActivity    time.Time
}

// Hit is a similarity search match before hydration.
type Hit struct {
	Kind  Kind
	ID    string
	Score float64
}

// Entity is a hydrated graph node returned by retrieval. Content carries
// the node's text (document content, section content, exercise task); for
// topics it is empty and Name carries the topic name. ParentID is the
// owning document for sections, empty otherwise.
type Entity struct {
	Kind     Kind
	ID       string
	Name     string
	Content  string
	TopicID  string
	ParentID string
}

// RecordAnswerParams carries everything needed to persist a graded answer:
// the answer node itself plus the study-session and consulted-topic edges.
type RecordAnswerParams struct {
	Legajo     string
	ExerciseID string
	TopicID    string
	SessionID  string
	Content    string
	Confidence float64
}
