package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu              sync.Mutex
	documents       map[string]*Document
	chunks          map[string][]Chunk // documentID -> chunks ordered by index
	classifications map[string]*Classification
	conversations   map[string]*Conversation
	messages        map[string][]Message // conversationID -> append order
	jobs            map[string]*Job
	usage           map[string]*Usage // orgID|day -> row
	profiles        map[string]*EmployeeProfile
	embeddings      map[string]*EmployeeEmbedding
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:       make(map[string]*Document),
		chunks:          make(map[string][]Chunk),
		classifications: make(map[string]*Classification),
		conversations:   make(map[string]*Conversation),
		messages:        make(map[string][]Message),
		jobs:            make(map[string]*Job),
		usage:           make(map[string]*Usage),
		profiles:        make(map[string]*EmployeeProfile),
		embeddings:      make(map[string]*EmployeeEmbedding),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return ErrConflict
	}
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, orgID int64, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok || doc.OrgID != orgID || doc.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, orgID int64) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for _, doc := range s.documents {
		if doc.OrgID == orgID && !doc.IsDeleted {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateDocumentStatus(_ context.Context, id string, status DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	return nil
}

func (s *MemoryStore) UpdateDocumentMetadata(_ context.Context, id string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Metadata = metadata
	return nil
}

func (s *MemoryStore) SoftDeleteDocument(_ context.Context, orgID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok || doc.OrgID != orgID || doc.IsDeleted {
		return ErrNotFound
	}
	now := time.Now().UTC()
	doc.IsDeleted = true
	doc.DeletedAt = &now
	return nil
}

func (s *MemoryStore) HardDeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	delete(s.chunks, id)
	delete(s.classifications, id)
	return nil
}

func (s *MemoryStore) ListSoftDeleted(_ context.Context, olderThan time.Time, limit int) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Document
	for _, doc := range s.documents {
		if doc.IsDeleted && doc.DeletedAt != nil && doc.DeletedAt.Before(olderThan) {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReplaceChunks(_ context.Context, documentID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	cp := make([]Chunk, len(chunks))
	copy(cp, chunks)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Index < cp[j].Index })
	s.chunks[documentID] = cp
	doc.Status = DocumentCompleted
	return nil
}

func (s *MemoryStore) GetChunk(_ context.Context, documentID string, index int) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks[documentID] {
		if c.Index == index {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListChunks(_ context.Context, documentID string) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	return out, nil
}

func (s *MemoryStore) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[documentID]), nil
}

func (s *MemoryStore) UpsertClassification(_ context.Context, c *Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.classifications[c.DocumentID] = &cp
	return nil
}

func (s *MemoryStore) GetClassification(_ context.Context, orgID int64, documentID string) (*Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classifications[documentID]
	if !ok || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) OrgContext(_ context.Context, orgID int64) (*OrgContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	teams := map[string]bool{}
	projects := map[string]bool{}
	docTypes := map[string]bool{}
	for _, c := range s.classifications {
		if c.OrgID != orgID {
			continue
		}
		if c.Team != "" && c.Team != "General" {
			teams[c.Team] = true
		}
		if c.Project != "" && c.Project != "none" {
			projects[c.Project] = true
		}
		if c.DocType != "" && c.DocType != "other" {
			docTypes[c.DocType] = true
		}
	}
	return &OrgContext{
		Teams:    sortedKeys(teams),
		Projects: sortedKeys(projects),
		DocTypes: sortedKeys(docTypes),
	}, nil
}

func (s *MemoryStore) FolderView(_ context.Context, orgID int64, facet, filter string) ([]FolderBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := map[string][]Document{}
	for docID, c := range s.classifications {
		if c.OrgID != orgID {
			continue
		}
		doc, ok := s.documents[docID]
		if !ok || doc.IsDeleted {
			continue
		}
		for _, value := range facetValues(c, facet) {
			if value == "" {
				continue
			}
			if filter != "" && value != filter {
				continue
			}
			buckets[value] = append(buckets[value], *doc)
		}
	}

	out := make([]FolderBucket, 0, len(buckets))
	for value, docs := range buckets {
		sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
		out = append(out, FolderBucket{Value: value, Count: len(docs), Documents: docs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func facetValues(c *Classification, facet string) []string {
	switch facet {
	case FacetTeam:
		return []string{c.Team}
	case FacetProject:
		return []string{c.Project}
	case FacetType:
		return []string{c.DocType}
	case FacetDate:
		return []string{c.TimePeriod}
	case FacetPerson:
		return c.People
	default:
		return nil
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[c.ID]; exists {
		return ErrConflict
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, orgID int64, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, orgID, userID int64) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, c := range s.conversations {
		if c.OrgID == orgID && c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	conv.LastMessageAt = msg.CreatedAt
	if conv.Title == "" && msg.Role == "user" {
		conv.Title = DeriveTitle(msg.Content)
	}
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *MemoryStore) SetConversationArchived(_ context.Context, orgID int64, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.OrgID != orgID {
		return ErrNotFound
	}
	c.Archived = archived
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrConflict
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, orgID int64, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) MarkJobRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = JobRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	return nil
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (s *MemoryStore) MarkJobCompleted(_ context.Context, id string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = JobCompleted
	job.Progress = 100
	job.Result = json.RawMessage(result)
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) MarkJobFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = JobFailed
	job.Error = errMsg
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) MarkJobQueued(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = JobQueued
	return nil
}

func (s *MemoryStore) CountJobsByStatus(_ context.Context, orgID int64) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for _, job := range s.jobs {
		if job.OrgID == orgID {
			out[string(job.Status)]++
		}
	}
	return out, nil
}

func usageKey(orgID int64, day time.Time) string {
	return day.UTC().Format("2006-01-02") + "|" + strconv.FormatInt(orgID, 10)
}

func (s *MemoryStore) AddUsage(_ context.Context, orgID int64, day time.Time, tokens, apiCalls int64, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := usageKey(orgID, day)
	row, ok := s.usage[key]
	if !ok {
		row = &Usage{OrgID: orgID, Day: day.UTC().Truncate(24 * time.Hour)}
		s.usage[key] = row
	}
	row.Tokens += tokens
	row.APICalls += apiCalls
	row.EstimatedCost += cost
	return nil
}

func (s *MemoryStore) MonthlyTokens(_ context.Context, orgID int64, ref time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref = ref.UTC()
	var total int64
	for _, row := range s.usage {
		if row.OrgID == orgID && row.Day.Year() == ref.Year() && row.Day.Month() == ref.Month() {
			total += row.Tokens
		}
	}
	return total, nil
}

func (s *MemoryStore) UsageTotals(_ context.Context, orgID int64) (int64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens int64
	var cost float64
	for _, row := range s.usage {
		if row.OrgID == orgID {
			tokens += row.Tokens
			cost += row.EstimatedCost
		}
	}
	return tokens, cost, nil
}

func (s *MemoryStore) GetEmployeeProfile(_ context.Context, orgID, userID int64) (*EmployeeProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey(orgID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// PutEmployeeProfile seeds a profile read model row. Test helper; in
// production the directory collaborator writes this table.
func (s *MemoryStore) PutEmployeeProfile(p *EmployeeProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[profileKey(p.OrgID, p.UserID)] = &cp
}

func (s *MemoryStore) UpsertEmployeeEmbedding(_ context.Context, e *EmployeeEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.embeddings[profileKey(e.OrgID, e.UserID)] = &cp
	return nil
}

func (s *MemoryStore) GetEmployeeEmbedding(_ context.Context, orgID, userID int64) (*EmployeeEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.embeddings[profileKey(orgID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func profileKey(orgID, userID int64) string {
	return strconv.FormatInt(orgID, 10) + "|" + strconv.FormatInt(userID, 10)
}

func (s *MemoryStore) SystemStats(_ context.Context, orgID int64) (*SystemStats, error) {
	s.mu.Lock()
	stats := &SystemStats{JobsByStatus: map[string]int64{}}
	for _, doc := range s.documents {
		if doc.OrgID == orgID && !doc.IsDeleted {
			stats.Documents++
			stats.Chunks += int64(len(s.chunks[doc.ID]))
		}
	}
	for _, c := range s.conversations {
		if c.OrgID == orgID {
			stats.Conversations++
		}
	}
	for _, job := range s.jobs {
		if job.OrgID == orgID {
			stats.JobsByStatus[string(job.Status)]++
		}
	}
	s.mu.Unlock()

	tokens, cost, _ := s.UsageTotals(context.Background(), orgID)
	stats.TokensTotal = tokens
	stats.CostTotal = cost
	return stats, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
