package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 3
	testWindow = time.Minute
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	clock time.Time
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.clock = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewMemoryStore()
	s.store.now = func() time.Time { return s.clock }
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) TestAllowsUpToLimit() {
	for i := range testLimit {
		res, err := s.store.Allow(s.ctx, "ip:1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(testLimit-i-1, res.Remaining)
		s.Equal(s.clock.Add(testWindow), res.ResetAt)
	}
}

func (s *MemoryStoreSuite) TestDeniesOverLimit() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "ip:1", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.clock = s.clock.Add(20 * time.Second)

	res, err := s.store.Allow(s.ctx, "ip:1", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.Equal(40, res.RetryAfter)
}

func (s *MemoryStoreSuite) TestWindowSlides() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "ip:1", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.clock = s.clock.Add(testWindow + time.Second)

	res, err := s.store.Allow(s.ctx, "ip:1", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(testLimit-1, res.Remaining)
}

func (s *MemoryStoreSuite) TestKeysAreIndependent() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "ip:1", testLimit, testWindow)
		s.Require().NoError(err)
	}
	res, err := s.store.Allow(s.ctx, "ip:2", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(res.Allowed)
}
