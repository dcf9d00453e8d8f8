package node

// distributor is the origin's fair initial-seeding roster. A rotating cursor
// walks the roster; each newly produced chunk goes to exactly one member, so
// with N peers each receives ~1/N of the stream directly and must recover
// the rest from other viewers. That asymmetry is the mechanism that forces
// peer cooperation.
type distributor struct {
	roster []string
	cursor int
}

func (d *distributor) add(addr string) {
	for _, a := range d.roster {
		if a == addr {
			return
		}
	}
	d.roster = append(d.roster, addr)
}

// remove takes effect on the next cursor pass; an in-flight round is not
// rewound.
func (d *distributor) remove(addr string) {
	for i, a := range d.roster {
		if a == addr {
			d.roster = append(d.roster[:i], d.roster[i+1:]...)
			if d.cursor > i {
				d.cursor--
			}
			return
		}
	}
}

func (d *distributor) size() int {
	return len(d.roster)
}

// next returns the roster member the current chunk is owed to and advances
// the cursor.
func (d *distributor) next() (string, bool) {
	if len(d.roster) == 0 {
		return "", false
	}
	if d.cursor >= len(d.roster) {
		d.cursor = 0
	}
	addr := d.roster[d.cursor]
	d.cursor = (d.cursor + 1) % len(d.roster)
	return addr, true
}
