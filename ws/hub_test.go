package ws

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub, userID int) *Client {
	return NewClient(h, nil, userID)
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_JoinLeavePrunesRoom(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, 1)
	b := newTestClient(h, 2)

	h.Join("r1", a, 1)
	h.Join("r1", b, 2)
	assert.True(t, h.HasRoom("r1"))
	assert.ElementsMatch(t, []int{1, 2}, h.Members("r1"))
	assert.Equal(t, "r1", a.Room())

	h.Leave("r1", a)
	assert.True(t, h.HasRoom("r1"))
	assert.Equal(t, "", a.Room())

	h.Leave("other", b)
	assert.True(t, h.HasRoom("r1"), "leave from a foreign room is a no-op")

	h.Remove(b)
	assert.False(t, h.HasRoom("r1"))
	assert.Equal(t, 0, h.Count())
	assert.Nil(t, h.Members("r1"))
}

func TestHub_JoinMovesClientBetweenRooms(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 7)

	h.Join("r1", c, 7)
	h.Join("r2", c, 7)

	assert.False(t, h.HasRoom("r1"))
	assert.True(t, h.HasRoom("r2"))
	roomID, ok := h.RoomOf(c)
	require.True(t, ok)
	assert.Equal(t, "r2", roomID)
	assert.Equal(t, 1, h.Count())
}

func TestHub_BroadcastIsolation(t *testing.T) {
	h := NewHub(nil)
	inR1 := newTestClient(h, 1)
	inR2 := newTestClient(h, 2)
	h.Join("r1", inR1, 1)
	h.Join("r2", inR2, 2)

	h.BroadcastToRoom("r1", map[string]string{"hello": "r1"})

	got := drain(inR1)
	require.Len(t, got, 1)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(got[0], &decoded))
	assert.Equal(t, "r1", decoded["hello"])
	assert.Empty(t, drain(inR2))

	h.BroadcastToRoom("missing", "nobody listens")
	assert.Empty(t, drain(inR1))
}

func TestHub_BroadcastPreservesOrder(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 1)
	h.Join("r1", c, 1)

	for i := 0; i < 10; i++ {
		h.BroadcastToRoom("r1", i)
	}
	got := drain(c)
	require.Len(t, got, 10)
	for i, msg := range got {
		assert.Equal(t, strconv.Itoa(i), string(msg))
	}
}

func TestHub_ClosedClientsAreSkipped(t *testing.T) {
	h := NewHub(nil)
	open := newTestClient(h, 1)
	closed := newTestClient(h, 2)
	h.Join("r1", open, 1)
	h.Join("r1", closed, 2)

	closed.Close()
	closed.Close()
	assert.True(t, closed.IsClosed())

	h.BroadcastToRoom("r1", "tick")
	assert.Len(t, drain(open), 1)
	assert.Empty(t, drain(closed))
	assert.False(t, h.SendTo(closed, "direct"))
	assert.True(t, h.SendTo(open, "direct"))
}

func TestHub_SaturatedClientDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient(h, 1)
	h.Join("r1", c, 1)

	for i := 0; i < sendBufferSize+10; i++ {
		h.BroadcastToRoom("r1", i)
	}
	assert.Len(t, drain(c), sendBufferSize)
}

func TestHub_CloseStale(t *testing.T) {
	h := NewHub(nil)
	fresh := newTestClient(h, 1)
	stale := newTestClient(h, 2)
	h.Join("r1", fresh, 1)
	h.Join("r1", stale, 2)

	stale.lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())

	dropped := h.CloseStale(time.Now().Add(-time.Minute))
	assert.Equal(t, 1, dropped)
	assert.True(t, stale.IsClosed())
	assert.False(t, fresh.IsClosed())
	assert.Equal(t, []int{1}, h.Members("r1"))
}

func TestHub_ConcurrentAccess(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c := newTestClient(h, id)
			roomID := "r1"
			if id%2 == 0 {
				roomID = "r2"
			}
			for j := 0; j < 50; j++ {
				h.Join(roomID, c, id)
				h.BroadcastToRoom(roomID, j)
				drain(c)
				h.Leave(roomID, c)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, h.Count())
	assert.False(t, h.HasRoom("r1"))
	assert.False(t, h.HasRoom("r2"))
}

func TestHub_RoomLockIsScopedToRoom(t *testing.T) {
	h := NewHub(nil)
	busy := newTestClient(h, 1)
	h.Join("busy", busy, 1)

	r := h.lookup("busy")
	require.NotNil(t, r)
	r.mu.Lock()
	defer r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c := newTestClient(h, 2)
		h.Join("quiet", c, 2)
		h.BroadcastToRoom("quiet", "hello")
		h.Leave("quiet", c)
		h.Remove(c)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("membership changes in one room waited on another room's lock")
	}
	assert.False(t, h.HasRoom("quiet"))
}

func TestHub_RejoinAfterPrune(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, 1)
	h.Join("r1", a, 1)
	pruned := h.lookup("r1")
	h.Remove(a)
	require.True(t, pruned.isClosed())

	b := newTestClient(h, 2)
	h.Join("r1", b, 2)
	assert.NotSame(t, pruned, h.lookup("r1"))
	assert.Equal(t, []int{2}, h.Members("r1"))
}
