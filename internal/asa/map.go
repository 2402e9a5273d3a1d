package asa

// Map groups the three Asa handles a transfer job juggles at once (spec.md
// §4.3's "asa map"): the remote source the job reads from, a local scratch
// file used as a buffer, and the remote destination the job writes to.
// Callers stash a *Map in the source Asa's SlotMap so a completion callback
// fired on any one of the three handles can reach the others without a
// second lookup.
type Map struct {
	Source *Asa // remote origin, read-only for the duration of a transfer
	Local  *Asa // local scratch file, read+write
	Dest   *Asa // remote destination (may rotate across version folders)
}

// NewMap wires up the back-references each Asa needs to find its siblings,
// installing itself into the SlotMap of Source, Local and Dest.
func NewMap(source, local, dest *Asa) *Map {
	m := &Map{Source: source, Local: local, Dest: dest}
	source.SetSlot(SlotMap, m)
	local.SetSlot(SlotMap, m)
	dest.SetSlot(SlotMap, m)
	return m
}
