package room

import "time"

// Snapshot is the persisted part of the coordinator state.
type Snapshot struct {
	Blocklist map[string]time.Time
	Usernames map[string]map[string]string
}

// Snapshot copies the blocklist and username tables.
func (c *Coordinator) Snapshot() Snapshot {
	return Snapshot{
		Blocklist: c.blocklist.snapshot(),
		Usernames: c.usernames.snapshot(),
	}
}

// Restore loads a snapshot into an idle coordinator, before any connection
// is served. Lapsed blocklist entries are dropped, as are remembered names
// of tokens that are still blocked. Tokens with remembered names are armed
// with a grace transition.
func (c *Coordinator) Restore(s Snapshot) {
	now := c.clock.Now()

	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	blocked := 0
	for token, until := range s.Blocklist {
		if !now.Before(until) {
			continue
		}
		if _, live := c.dir.rooms[token]; live {
			continue
		}
		c.blocklist.Block(token, until)
		blocked++
	}

	names := 0
	for token, byRoom := range s.Usernames {
		if _, isBlocked := c.blocklist.Blocked(token, now); isBlocked {
			continue
		}
		for sid, name := range byRoom {
			c.usernames.Put(token, sid, name)
			names++
		}
		if _, live := c.dir.rooms[token]; !live && len(byRoom) > 0 {
			// Members get one grace period to come back after a restart.
			c.sched.Arm(token, c.opts.GracePeriod, c.restoredGraceExpired)
		}
	}

	c.log.Noticef("Restored %d blocked tokens and %d remembered names", blocked, names)
}

// restoredGraceExpired runs when nobody returned to a restored token within
// the grace period. The token is treated like a room that emptied out.
func (c *Coordinator) restoredGraceExpired(tr *Transition) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	if !c.sched.Complete(tr) {
		return
	}
	if _, live := c.dir.rooms[tr.Token]; live {
		return
	}

	now := c.clock.Now()
	until := now.Add(c.opts.BlockDuration)
	c.usernames.Clear(tr.Token)
	c.blocklist.Block(tr.Token, until)
	c.persist()
	c.log.Noticef("Restored room %s was not rejoined, blocked until %s", short(tr.Token), until.UTC().Format(time.RFC3339))
}
