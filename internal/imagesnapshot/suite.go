package imagesnapshot

import (
	"context"
	"testing"
)

// TB is the part of testing.TB that Test reports through.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	Skipf(format string, args ...any)
}

// Test snapshots story and makes exactly one assertion about the match.
func (s *Snapshotter) Test(ctx context.Context, t TB, story Context) {
	t.Helper()
	res, err := s.Snapshot(ctx, story)
	if err != nil {
		t.Fatalf("%s - %s: %v", story.Kind, story.Name, err)
		return
	}
	if res.Skipped {
		t.Skipf("%s - %s: %s stories are not supported", story.Kind, story.Name, story.Framework)
		return
	}
	if !res.Match.Pass {
		t.Errorf("%s", res.Match.Message)
	}
}

// Run is the go test binding: one browser for the whole test, one subtest per story.
//
//	func TestStoryshots(t *testing.T) {
//		s, _ := imagesnapshot.New(imagesnapshot.Config{})
//		imagesnapshot.Run(t, s, stories)
//	}
func Run(t *testing.T, s *Snapshotter, stories []Context) {
	t.Helper()
	if err := s.BeforeAll(t.Context()); err != nil {
		t.Fatalf("before all: %v", err)
	}
	t.Cleanup(func() {
		if err := s.AfterAll(context.Background()); err != nil {
			t.Errorf("after all: %v", err)
		}
	})
	for _, story := range stories {
		t.Run(story.Kind+"/"+story.Name, func(t *testing.T) {
			s.Test(t.Context(), t, story)
		})
	}
}
