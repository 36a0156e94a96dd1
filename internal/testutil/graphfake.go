package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aula-ai/aula/internal/graph"
)

// FakeGraph is an in-memory knowledge graph implementing the store
// interfaces consumed by the retrieval engine, the agent and grading.
// Similarity search ranks by cosine similarity with the same ordering
// rules as the real store.
//
// Thread-safe for concurrent use.
type FakeGraph struct {
	mu        sync.Mutex
	topics    map[string]graph.Topic
	documents map[string]graph.Document
	sections  map[string]graph.Section
	exercises map[string]graph.Exercise
	students  map[string]struct{}
	knowledge map[string]float64 // legajo + "/" + topicID
	answers   []graph.Answer

	// RecordAnswerErr, when set, is returned by RecordAnswer.
	RecordAnswerErr error
	// UpsertKnowledgeErr, when set, is returned by UpsertKnowledgeLevel.
	UpsertKnowledgeErr error
}

// NewFakeGraph creates an empty in-memory graph.
func NewFakeGraph() *FakeGraph {
	return &FakeGraph{
		topics:    make(map[string]graph.Topic),
		documents: make(map[string]graph.Document),
		sections:  make(map[string]graph.Section),
		exercises: make(map[string]graph.Exercise),
		students:  make(map[string]struct{}),
		knowledge: make(map[string]float64),
	}
}

// AddTopic inserts or replaces a topic.
func (f *FakeGraph) AddTopic(t graph.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[t.ID] = t
}

// AddDocument inserts or replaces a document.
func (f *FakeGraph) AddDocument(d graph.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[d.ID] = d
}

// AddSection inserts or replaces a section.
func (f *FakeGraph) AddSection(s graph.Section) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sections[s.ID] = s
}

// AddExercise inserts or replaces an exercise.
func (f *FakeGraph) AddExercise(e graph.Exercise) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exercises[e.ID] = e
}

// SetKnowledge sets a student's level for a topic directly.
func (f *FakeGraph) SetKnowledge(legajo, topicID string, level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.knowledge[legajo+"/"+topicID] = level
}

// Answers returns a copy of every recorded answer.
func (f *FakeGraph) Answers() []graph.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]graph.Answer, len(f.answers))
	copy(cp, f.answers)
	return cp
}

func (f *FakeGraph) SearchVectors(_ context.Context, kind graph.Kind, topicID string, query []float32, k int) ([]graph.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var hits []graph.Hit
	add := func(id string, emb []float32, topic string) {
		if topicID != "" && topic != topicID {
			return
		}
		if len(emb) == 0 {
			return
		}
		hits = append(hits, graph.Hit{Kind: kind, ID: id, Score: graph.CosineSimilarity(query, emb)})
	}

	switch kind {
	case graph.KindTopic:
		for _, t := range f.topics {
			add(t.ID, t.Embedding, t.ID)
		}
	case graph.KindDocument:
		for _, d := range f.documents {
			add(d.ID, d.Embedding, d.TopicID)
		}
	case graph.KindSection:
		for _, s := range f.sections {
			topic := ""
			if doc, ok := f.documents[s.DocumentID]; ok {
				topic = doc.TopicID
			}
			add(s.ID, s.Embedding, topic)
		}
	case graph.KindExercise:
		for _, e := range f.exercises {
			add(e.ID, e.Embedding, e.TopicID)
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	return graph.RankHits(hits, k), nil
}

func (f *FakeGraph) EntitiesByIDs(_ context.Context, kind graph.Kind, ids []string) ([]graph.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []graph.Entity
	for _, id := range ids {
		switch kind {
		case graph.KindTopic:
			if t, ok := f.topics[id]; ok {
				out = append(out, graph.Entity{Kind: kind, ID: t.ID, Name: t.Name, TopicID: t.ID})
			}
		case graph.KindDocument:
			if d, ok := f.documents[id]; ok {
				out = append(out, graph.Entity{Kind: kind, ID: d.ID, Name: d.Name, Content: d.Content, TopicID: d.TopicID})
			}
		case graph.KindSection:
			if s, ok := f.sections[id]; ok {
				name := ""
				topic := ""
				if doc, ok := f.documents[s.DocumentID]; ok {
					name = doc.Name
					topic = doc.TopicID
				}
				out = append(out, graph.Entity{Kind: kind, ID: s.ID, Name: name, Content: s.Content, TopicID: topic, ParentID: s.DocumentID})
			}
		case graph.KindExercise:
			if e, ok := f.exercises[id]; ok {
				out = append(out, graph.Entity{Kind: kind, ID: e.ID, Content: e.Task, TopicID: e.TopicID})
			}
		}
	}
	return out, nil
}

func (f *FakeGraph) TopicByID(_ context.Context, id string) (*graph.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[id]; ok {
		return &t, nil
	}
	return nil, fmt.Errorf("%w: topic %q", graph.ErrNotFound, id)
}

func (f *FakeGraph) EnsureStudent(_ context.Context, legajo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.students[legajo] = struct{}{}
	return nil
}

func (f *FakeGraph) ExerciseWithTopic(_ context.Context, id string) (*graph.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.exercises[id]; ok {
		return &e, nil
	}
	return nil, fmt.Errorf("%w: exercise %q", graph.ErrNotFound, id)
}

func (f *FakeGraph) ExercisesNearLevel(_ context.Context, topicID string, level, window float64, limit int) ([]graph.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lo, hi := level-window, level+window
	var out []graph.Exercise
	for _, e := range f.exercises {
		if e.TopicID == topicID && e.Difficulty >= lo && e.Difficulty <= hi {
			out = append(out, e)
		}
	}
	sortByDistance(out, level)
	return truncate(out, limit), nil
}

func (f *FakeGraph) ExercisesAboveLevel(_ context.Context, topicID string, level float64, limit int) ([]graph.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []graph.Exercise
	for _, e := range f.exercises {
		if e.TopicID == topicID && e.Difficulty > level {
			out = append(out, e)
		}
	}
	sortByDistance(out, level)
	return truncate(out, limit), nil
}

func (f *FakeGraph) RecordAnswer(_ context.Context, p graph.RecordAnswerParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RecordAnswerErr != nil {
		return uuid.Nil, f.RecordAnswerErr
	}
	f.students[p.Legajo] = struct{}{}
	a := graph.Answer{
		ID:         uuid.New(),
		ExerciseID: p.ExerciseID,
		SessionID:  p.SessionID,
		Content:    p.Content,
		Confidence: p.Confidence,
		CreatedAt:  time.Now(),
	}
	f.answers = append(f.answers, a)
	return a.ID, nil
}

func (f *FakeGraph) KnowledgeLevel(_ context.Context, legajo, topicID string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	level, ok := f.knowledge[legajo+"/"+topicID]
	return level, ok, nil
}

func (f *FakeGraph) UpsertKnowledgeLevel(_ context.Context, legajo, topicID string, level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertKnowledgeErr != nil {
		return f.UpsertKnowledgeErr
	}
	f.knowledge[legajo+"/"+topicID] = min(1, max(0, level))
	return nil
}

func (f *FakeGraph) KnowledgeReport(_ context.Context, legajo, term string) ([]graph.KnowledgeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rows []graph.KnowledgeRow
	for key, level := range f.knowledge {
		studentPart, topicPart, ok := strings.Cut(key, "/")
		if !ok || studentPart != legajo {
			continue
		}
		topic, exists := f.topics[topicPart]
		if !exists {
			topic = graph.Topic{ID: topicPart, Name: topicPart}
		}
		if term != "" && topicPart != term && !strings.EqualFold(topic.Name, term) {
			continue
		}
		rows = append(rows, graph.KnowledgeRow{TopicID: topicPart, TopicName: topic.Name, Level: level})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TopicID < rows[j].TopicID })
	return rows, nil
}

func (f *FakeGraph) TopicActivity(_ context.Context, legajo, term string, passThreshold float64) ([]graph.ActivityRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byTopic := make(map[string]*graph.ActivityRow)
	sessions := make(map[string]map[string]struct{})
	for _, a := range f.answers {
		ex, ok := f.exercises[a.ExerciseID]
		if !ok {
			continue
		}
		if !strings.Contains(a.SessionID, legajo) {
			continue
		}
		topic, exists := f.topics[ex.TopicID]
		if !exists {
			topic = graph.Topic{ID: ex.TopicID, Name: ex.TopicID}
		}
		if term != "" && ex.TopicID != term && !strings.EqualFold(topic.Name, term) {
			continue
		}
		row, ok := byTopic[ex.TopicID]
		if !ok {
			row = &graph.ActivityRow{TopicID: ex.TopicID, TopicName: topic.Name}
			byTopic[ex.TopicID] = row
			sessions[ex.TopicID] = make(map[string]struct{})
		}
		sessions[ex.TopicID][a.SessionID] = struct{}{}
		row.Answers++
		row.AvgConfidence += a.Confidence
		if a.Confidence >= passThreshold {
			row.CorrectnessRate++
		}
		if a.CreatedAt.After(row.LastActivity) {
			row.LastActivity = a.CreatedAt
		}
	}

	var rows []graph.ActivityRow
	for topicID, row := range byTopic {
		row.Sessions = len(sessions[topicID])
		if row.Answers > 0 {
			row.AvgConfidence /= float64(row.Answers)
			row.CorrectnessRate /= float64(row.Answers)
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TopicID < rows[j].TopicID })
	return rows, nil
}

func sortByDistance(exs []graph.Exercise, level float64) {
	sort.Slice(exs, func(i, j int) bool {
		di := abs(exs[i].Difficulty - level)
		dj := abs(exs[j].Difficulty - level)
		if di != dj {
			return di < dj
		}
		return exs[i].ID < exs[j].ID
	})
}

func truncate(exs []graph.Exercise, limit int) []graph.Exercise {
	if limit > 0 && len(exs) > limit {
		return exs[:limit]
	}
	return exs
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
