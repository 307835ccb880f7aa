package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"go.klb.dev/mpclip/internal/message"
)

func clipAt(text string, at time.Time) *message.Clip {
	c := message.NewClip(text, "test")
	c.Timestamp = at
	return c
}

func TestStore_Add(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		clips []*message.Clip
		want  []bool
	}{
		{"first clip", []*message.Clip{clipAt("a", t0)}, []bool{true}},
		{"same text rejected", []*message.Clip{clipAt("a", t0), clipAt("a", t0.Add(time.Second))}, []bool{true, false}},
		{"older rejected", []*message.Clip{clipAt("a", t0), clipAt("b", t0.Add(-time.Second))}, []bool{true, false}},
		{"same timestamp accepted", []*message.Clip{clipAt("a", t0), clipAt("b", t0)}, []bool{true, true}},
		{"back and forth", []*message.Clip{clipAt("a", t0), clipAt("b", t0.Add(1)), clipAt("a", t0.Add(2))}, []bool{true, true, true}},
		{"undecodable rejected", []*message.Clip{{Data: "%%", Timestamp: t0}}, []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for i, c := range tt.clips {
				assert.Equal(t, tt.want[i], s.Add(c), "clip %d", i)
			}
		})
	}
}

func TestStore_Latest(t *testing.T) {
	s := New()
	assert.Nil(t, s.Latest())

	c := message.NewClip("x", "test")
	s.Add(c)
	assert.Same(t, c, s.Latest())

	s.Add(c)
	assert.Same(t, c, s.Latest())
}
