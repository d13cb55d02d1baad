package policy

import "sync/atomic"

// Store is a Source whose Set is replaced wholesale on reload.
type Store struct {
	cur atomic.Pointer[Set]
}

func NewStore(s *Set) *Store {
	st := &Store{}
	st.Swap(s)
	return st
}

func (st *Store) Current() *Set {
	if s := st.cur.Load(); s != nil {
		return s
	}
	return Empty()
}

// Swap installs s and returns the previous Set.
func (st *Store) Swap(s *Set) *Set {
	if s == nil {
		s = Empty()
	}
	return st.cur.Swap(s)
}
