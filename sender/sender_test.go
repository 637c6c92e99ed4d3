package sender

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_CharCounting(t *testing.T) {
	var ended []time.Time
	now := time.Unix(100, 0)
	cc := NewCharCounting(20)
	s := New(Options{
		Protocol: cc,
		Now:      func() time.Time { return now },
		OnEnd:    func(t time.Time) { ended = append(ended, t) },
	})

	// each line is 8 bytes with its terminator
	require.NoError(t, s.Load("a.nc", "G1 X001\nG1 X002\nG1 X003\n", nil))

	assert.Equal(t, []string{"G1 X001", "G1 X002"}, s.Next())
	assert.Equal(t, 16, cc.Outstanding())

	assert.Empty(t, s.Next(), "third line does not fit")

	s.Ack()
	assert.Equal(t, 8, cc.Outstanding())
	assert.Equal(t, []string{"G1 X003"}, s.Next())
	assert.Equal(t, 16, cc.Outstanding())

	s.Ack()
	assert.Equal(t, 8, cc.Outstanding())
	assert.Empty(t, ended)

	s.Ack()
	assert.Equal(t, 0, cc.Outstanding())
	assert.Equal(t, []time.Time{now}, ended)
	assert.Equal(t, 3, s.Received())
}

func TestSender_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	line := func() string { return "G1 X" + strings.Repeat("1", rng.Intn(12)) }

	for iter := 0; iter < 50; iter++ {
		cc := NewCharCounting(20)
		s := New(Options{Protocol: cc})

		for step := 0; step < 200; step++ {
			switch rng.Intn(5) {
			case 0:
				var lines []string
				for i := rng.Intn(10); i >= 0; i-- {
					lines = append(lines, line())
				}
				require.NoError(t, s.Load("p", strings.Join(lines, "\n"), nil))
			case 1, 2:
				s.Next()
			case 3:
				if s.Outstanding() > 0 {
					s.Ack()
				}
			case 4:
				s.Rewind()
			}

			require.True(t, 0 <= s.Received())
			require.True(t, s.Received() <= s.Sent())
			require.True(t, s.Sent() <= s.Total())
			require.True(t, cc.Outstanding() <= cc.BufferSize())
		}
	}
}

func TestSender_Rewind(t *testing.T) {
	s := New(Options{Protocol: NewCharCounting(120)})
	require.NoError(t, s.Load("part.nc", "G0 X1\nG0 X2\nG0 X3", expression.Context{"a": 1}))
	s.Next()
	s.Ack()
	s.Hold(&machine.HoldReason{Data: "M0"})

	s.Rewind()
	st := s.Peek()
	assert.Equal(t, 0, st.Sent)
	assert.Equal(t, 0, st.Received)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, "part.nc", st.Name)
	assert.False(t, st.Hold)
	assert.Equal(t, 1, st.Context["a"])
	assert.Equal(t, "G0 X2", s.Line(1))
	assert.Equal(t, "", s.Line(3))
}

func TestSender_Load_Invalid(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Load("ok.nc", "G0 X1", nil))

	assert.ErrorIs(t, s.Load("empty.nc", "\n ; nothing\n\n", nil), ErrInvalidProgram)
	assert.ErrorIs(t, s.Load("bin.nc", "G0\x00", nil), ErrInvalidProgram)

	assert.Equal(t, "ok.nc", s.Name())
	assert.Equal(t, 1, s.Total())
}

func TestSender_Load_LineTooLong(t *testing.T) {
	s := New(Options{Protocol: NewCharCounting(20)})
	require.NoError(t, s.Load("ok.nc", "G0 X1", nil))

	long := "G1 X" + strings.Repeat("1", 20)
	err := s.Load("long.nc", "G0 X1\n"+long, nil)
	assert.ErrorIs(t, err, ErrInvalidProgram)
	assert.Contains(t, err.Error(), "line 2 is 25 bytes")
	assert.Equal(t, "ok.nc", s.Name())

	// comments and statements are not sent
	assert.NoError(t, s.Load("c.nc", "G0 X1 ; "+long+"\n%x="+strings.Repeat("1", 30), nil))

	// send-response has no size limit
	assert.NoError(t, New(Options{}).Load("long.nc", long, nil))
}

func TestSender_ExpandedLineTooLong(t *testing.T) {
	s := New(Options{
		Protocol: NewCharCounting(20),
		Filter: func(line string, _ expression.Context) string {
			return strings.Replace(line, "[x]", strings.Repeat("1", 20), 1)
		},
	})
	require.NoError(t, s.Load("p", "G0 X1\nG0 X[x]\nG0 X2", nil))

	assert.Equal(t, []string{"G0 X1"}, s.Next())
	require.True(t, s.IsHeld())
	assert.Equal(t, "line 2 is 25 bytes, the receive buffer holds 20", s.HoldReason().Err)

	s.Ack()
	s.Unhold()
	assert.Empty(t, s.Next(), "the line still does not fit")
	assert.True(t, s.IsHeld())
	assert.Equal(t, 1, s.Sent())
}

func TestSender_Bounds(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Load("p", "G0 X-1 Y2\nG1 X4 Z-3", expression.Context{"xmin": -10.0}))
	st := s.Peek()
	require.NotNil(t, st.Bounds)
	assert.Equal(t, 4.0, st.Bounds.Max.X)
	assert.Equal(t, -10.0, st.Context["xmin"], "given context wins")
	assert.Equal(t, -3.0, st.Context["zmin"])
}

func TestSender_FilterOnce(t *testing.T) {
	var calls int
	s := New(Options{
		Protocol: &SendResponse{},
		Filter: func(line string, _ expression.Context) string {
			calls++
			return line
		},
	})
	require.NoError(t, s.Load("p", "G0 X1\nG0 X2", nil))

	assert.Equal(t, []string{"G0 X1"}, s.Next())
	assert.Empty(t, s.Next())
	assert.Empty(t, s.Next())
	assert.Equal(t, 2, calls, "blocked line is filtered once")

	s.Ack()
	assert.Equal(t, []string{"G0 X2"}, s.Next())
	assert.Equal(t, 2, calls)
}

func TestSender_HoldFromFilter(t *testing.T) {
	var s *Sender
	s = New(Options{
		Protocol: NewCharCounting(120),
		Filter: func(line string, _ expression.Context) string {
			if strings.Contains(line, "M0") {
				s.Hold(&machine.HoldReason{Data: "M0"})
			}
			return line
		},
	})
	require.NoError(t, s.Load("p", "G0 X1\nM0\nG0 X2", nil))

	assert.Equal(t, []string{"G0 X1", "M0"}, s.Next(), "the pausing line itself is sent")
	assert.True(t, s.IsHeld())
	assert.Equal(t, &machine.HoldReason{Data: "M0"}, s.HoldReason())
	assert.Empty(t, s.Next())

	s.Unhold()
	assert.Equal(t, []string{"G0 X2"}, s.Next())
}

func TestSender_EmptyLines(t *testing.T) {
	var ended bool
	s := New(Options{
		Protocol: &SendResponse{},
		Filter: func(line string, _ expression.Context) string {
			if strings.HasPrefix(line, "%") {
				return ""
			}
			return line
		},
		OnEnd: func(time.Time) { ended = true },
	})
	require.NoError(t, s.Load("p", "G0 X1\n\n%x=1", nil))

	assert.Equal(t, []string{"G0 X1"}, s.Next())
	s.Ack()
	assert.Empty(t, s.Next())
	assert.Equal(t, 3, s.Sent())
	assert.Equal(t, 3, s.Received())
	assert.True(t, ended)
}

func TestSender_Number(t *testing.T) {
	s := New(Options{
		Protocol: &SendResponse{},
		Number:   func(n int, line string) string { return "N" + string(rune('0'+n)) + line },
	})
	require.NoError(t, s.Load("p", "G0\nG1", nil))
	assert.Equal(t, []string{"N1G0"}, s.Next())
	s.Ack()
	assert.Equal(t, []string{"N2G1"}, s.Next())
}

func TestSender_AckPanics(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Load("p", "G0", nil))
	assert.Panics(t, func() { s.Ack() })
}

func TestSender_Peek_Times(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(Options{Protocol: NewCharCounting(120), Now: func() time.Time { return now }})
	require.NoError(t, s.Load("p", "G0\nG0\nG0\nG0", nil))

	s.Next()
	now = now.Add(2 * time.Second)
	s.Ack()

	st := s.Peek()
	assert.Equal(t, int64(2000), st.ElapsedTime)
	assert.Equal(t, int64(6000), st.RemainingTime)
	assert.Equal(t, int64(0), st.FinishTime)
}

func TestSender_Unload(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Load("p", "G0", nil))
	s.Unload()
	assert.False(t, s.Loaded())
	assert.Empty(t, s.Next())
	assert.Equal(t, Status{}, s.Peek())
}
