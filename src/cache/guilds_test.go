package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"personal/discord_client/src/resources"
)

func newTestGuilds(snapshots bool) *Guilds {
	return NewGuilds(Options{
		SnapshotOnUpdate: snapshots,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func outage(id resources.Snowflake) resources.UnavailableGuild {
	unavailable := true
	return resources.UnavailableGuild{ID: id, Unavailable: &unavailable}
}

func TestGuildCreateCases(t *testing.T) {
	c := newTestGuilds(false)
	c.OnReady([]resources.Snowflake{"1"})

	placeholder, ok := c.Get("1")
	require.True(t, ok)
	require.False(t, placeholder.Settled)
	require.True(t, placeholder.Unavailable)

	populated := c.OnGuildCreate(resources.GuildData{ID: "1", Name: "first"})
	require.False(t, populated.IsNew())
	require.False(t, populated.BecameAvailable)
	require.True(t, populated.Entry.Settled)
	require.False(t, populated.Entry.Unavailable)

	joined := c.OnGuildCreate(resources.GuildData{ID: "2", Name: "second"})
	require.True(t, joined.IsNew())
	require.False(t, joined.BecameAvailable)

	_, err := c.OnGuildDelete(outage("1"))
	require.NoError(t, err)
	back := c.OnGuildCreate(resources.GuildData{ID: "1", Name: "first again"})
	require.False(t, back.IsNew())
	require.True(t, back.BecameAvailable)

	g, ok := c.Get("1")
	require.True(t, ok)
	require.Equal(t, "first again", g.Name)
	require.False(t, g.Unavailable)
}

func TestGuildDeleteWithoutMarkerEvicts(t *testing.T) {
	c := newTestGuilds(false)
	c.OnGuildCreate(resources.GuildData{ID: "5", Name: "leaving"})

	removed, err := c.OnGuildDelete(resources.UnavailableGuild{ID: "5"})
	require.NoError(t, err)
	require.True(t, removed.Removed)
	require.Equal(t, "leaving", removed.Name)

	_, ok := c.Get("5")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestGuildDeleteWithMarkerKeepsEntry(t *testing.T) {
	c := newTestGuilds(false)
	c.OnGuildCreate(resources.GuildData{ID: "5", Name: "outage"})

	g, err := c.OnGuildDelete(outage("5"))
	require.NoError(t, err)
	require.False(t, g.Removed)
	require.True(t, g.Unavailable)

	cached, ok := c.Get("5")
	require.True(t, ok)
	require.True(t, cached.Unavailable)
	require.Equal(t, "outage", cached.Name)
}

func TestUnknownGuildIsConsistencyError(t *testing.T) {
	c := newTestGuilds(false)

	_, err := c.OnGuildUpdate(resources.GuildData{ID: "9"})
	require.ErrorIs(t, err, ErrUnknownGuild)

	_, err = c.OnGuildDelete(resources.UnavailableGuild{ID: "9"})
	require.ErrorIs(t, err, ErrUnknownGuild)
}

func TestGuildUpdateSnapshotPolicy(t *testing.T) {
	for _, snapshots := range []bool{false, true} {
		t.Run(fmt.Sprintf("snapshots=%v", snapshots), func(t *testing.T) {
			c := newTestGuilds(snapshots)
			c.OnGuildCreate(resources.GuildData{
				ID:          "3",
				Name:        "before",
				MemberCount: 12,
				Channels:    []resources.Channel{{ID: "30"}},
			})

			update, err := c.OnGuildUpdate(resources.GuildData{ID: "3", Name: "after"})
			require.NoError(t, err)
			require.False(t, update.Created)
			require.Equal(t, "after", update.Entry.Name)
			require.Equal(t, 12, update.Entry.MemberCount)
			require.Len(t, update.Entry.Channels, 1)

			if snapshots {
				require.NotNil(t, update.Snapshot)
				require.Equal(t, "before", update.Snapshot.Name)
			} else {
				require.Nil(t, update.Snapshot)
			}

			cached, _ := c.Get("3")
			require.Equal(t, "after", cached.Name)
		})
	}
}

func TestAllSettled(t *testing.T) {
	sizes := []int{0, 1, 8}
	for _, size := range sizes {
		t.Run(fmt.Sprintf("guilds=%d", size), func(t *testing.T) {
			ids := make([]resources.Snowflake, size)
			for i := range ids {
				ids[i] = resources.Snowflake(fmt.Sprint(1000 + i))
			}

			c := newTestGuilds(false)
			c.OnReady(ids)
			require.Equal(t, size == 0, c.AllSettled())

			order := rand.Perm(size)
			for n, i := range order {
				require.False(t, c.AllSettled())
				switch n % 3 {
				case 0:
					c.OnGuildCreate(resources.GuildData{ID: ids[i]})
				case 1:
					_, err := c.OnGuildDelete(outage(ids[i]))
					require.NoError(t, err)
				case 2:
					_, err := c.OnGuildDelete(resources.UnavailableGuild{ID: ids[i]})
					require.NoError(t, err)
				}
				require.Equal(t, size-n-1, c.Unsettled())
			}
			require.True(t, c.AllSettled())
		})
	}
}

func TestOnReadyReplacesPreviousSession(t *testing.T) {
	c := newTestGuilds(false)
	c.OnGuildCreate(resources.GuildData{ID: "1"})
	c.OnGuildCreate(resources.GuildData{ID: "2"})

	c.OnReady([]resources.Snowflake{"2", "3"})
	require.Equal(t, 2, c.Len())
	_, ok := c.Get("1")
	require.False(t, ok)

	all := c.All()
	require.Equal(t, resources.Snowflake("2"), all[0].ID)
	require.Equal(t, resources.Snowflake("3"), all[1].ID)
	require.False(t, c.AllSettled())
}

func TestReadersNeverSeeHalfAppliedUpdates(t *testing.T) {
	c := newTestGuilds(true)
	c.OnGuildCreate(resources.GuildData{ID: "1", Name: "v0", PreferredLocale: "v0"})

	var wg sync.WaitGroup
	done := make(chan struct{})
	var torn error
	var once sync.Once
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				g, _ := c.Get("1")
				if g.Name != g.PreferredLocale {
					once.Do(func() { torn = errors.New("reader saw " + g.Name + "/" + g.PreferredLocale) })
				}
			}
		}()
	}

	for i := 1; i <= 500; i++ {
		version := fmt.Sprintf("v%d", i)
		_, err := c.OnGuildUpdate(resources.GuildData{ID: "1", Name: version, PreferredLocale: version})
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
	require.NoError(t, torn)
}
