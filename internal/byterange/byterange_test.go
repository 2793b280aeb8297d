package byterange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		total int64
		want  Resolved
	}{
		{
			name:  "closed range",
			raw:   "bytes=0-4",
			total: 11,
			want:  Resolved{Offset: 0, Length: 5, Partial: true, ContentRange: "bytes 0-4/11"},
		},
		{
			name:  "open end",
			raw:   "bytes=5-",
			total: 11,
			want:  Resolved{Offset: 5, Length: 6, Partial: true, ContentRange: "bytes 5-10/11"},
		},
		{
			name:  "suffix",
			raw:   "bytes=-4",
			total: 11,
			want:  Resolved{Offset: 7, Length: 4, Partial: true, ContentRange: "bytes 7-10/11"},
		},
		{
			name:  "suffix longer than object clamps at zero",
			raw:   "bytes=-50",
			total: 11,
			want:  Resolved{Offset: 0, Length: 11, Partial: true, ContentRange: "bytes 0-10/11"},
		},
		{
			name:  "end past object is clamped",
			raw:   "bytes=8-100",
			total: 11,
			want:  Resolved{Offset: 8, Length: 3, Partial: true, ContentRange: "bytes 8-10/11"},
		},
		{
			name:  "only first of several ranges",
			raw:   "bytes=0-1, 4-6",
			total: 11,
			want:  Resolved{Offset: 0, Length: 2, Partial: true, ContentRange: "bytes 0-1/11"},
		},
		{
			name:  "unit is case insensitive",
			raw:   "Bytes=2-3",
			total: 11,
			want:  Resolved{Offset: 2, Length: 2, Partial: true, ContentRange: "bytes 2-3/11"},
		},
		{
			name:  "example from upload",
			raw:   "bytes=0-1023",
			total: 9999,
			want:  Resolved{Offset: 0, Length: 1024, Partial: true, ContentRange: "bytes 0-1023/9999"},
		},
		{
			name:  "start past object degrades to full",
			raw:   "bytes=20-30",
			total: 11,
			want:  Resolved{Offset: 0, Length: 11},
		},
		{
			name:  "zero suffix degrades to full",
			raw:   "bytes=-0",
			total: 11,
			want:  Resolved{Offset: 0, Length: 11},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.raw, tt.total))
		})
	}
}

func TestResolve_MalformedOrAbsentIsFull(t *testing.T) {
	headers := []string{
		"",
		"   ",
		"bytes=",
		"bytes=-",
		"bytes=abc-def",
		"bytes=5-2",
		"bytes=+1-2",
		"items=0-4",
		"0-4",
		"bytes=1.5-2",
	}
	for _, total := range []int64{0, 1, 11, 1 << 20} {
		for _, h := range headers {
			got := Resolve(h, total)
			assert.Equal(t, Resolved{Offset: 0, Length: total}, got, "header %q total %d", h, total)
		}
	}
}

func TestResolve_EmptyObjectIsNeverPartial(t *testing.T) {
	got := Resolve("bytes=0-4", 0)
	assert.False(t, got.Partial)
	assert.Zero(t, got.Length)
}

func TestResolve_RangeStaysInsideObject(t *testing.T) {
	for total := int64(1); total <= 40; total++ {
		for _, h := range []string{"bytes=0-0", "bytes=3-", "bytes=-7", "bytes=5-9", "bytes=0-1000"} {
			got := Resolve(h, total)
			if got.Length > 0 {
				assert.LessOrEqual(t, got.Offset+got.Length-1, total-1, "header %q total %d", h, total)
			}
			assert.GreaterOrEqual(t, got.Offset, int64(0))
		}
	}
}

func TestParse(t *testing.T) {
	spec, ok := Parse("bytes=-4")
	require.True(t, ok)
	assert.True(t, spec.IsSuffix())
	assert.Nil(t, spec.Start)
	assert.Equal(t, int64(4), *spec.End)

	spec, ok = Parse(" bytes= 7 - ")
	require.True(t, ok)
	assert.Equal(t, int64(7), *spec.Start)
	assert.Nil(t, spec.End)

	_, ok = Parse("bytes=9-1")
	assert.False(t, ok)
}
