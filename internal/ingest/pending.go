package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dept-delivery/finsheet/internal/model"
)

// pendingSet holds sheets suspended on classifier confirmation. In-memory by
// design: a pending sheet that outlives the process is simply re-uploaded.
type pendingSet struct {
	mu     sync.Mutex
	sheets map[string]*PendingSheet
}

func newPendingSet() *pendingSet {
	return &pendingSet{sheets: map[string]*PendingSheet{}}
}

func (s *pendingSet) add(req model.UploadRequest, sourceFile string, sheet model.Sheet, candidates []model.SheetType) *PendingSheet {
	p := &PendingSheet{
		ID:         uuid.New().String(),
		SourceFile: sourceFile,
		SheetName:  sheet.Name,
		Candidates: candidates,
		CreatedAt:  time.Now().UTC(),
		req:        req,
		sheet:      sheet,
	}
	s.mu.Lock()
	s.sheets[p.ID] = p
	s.mu.Unlock()
	return p
}

func (s *pendingSet) take(id string) (*PendingSheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sheets[id]
	if ok {
		delete(s.sheets, id)
	}
	return p, ok
}

func (s *pendingSet) list() []PendingSheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingSheet, 0, len(s.sheets))
	for _, p := range s.sheets {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
