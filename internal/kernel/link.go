package kernel

// Link is a weighted relationship between two units. Energy flows along it
// in the direction of its momentum.
type Link struct {
	ID       LinkID
	Source   UnitID
	Target   UnitID
	Coupling float64 // [0,1]
	Momentum float64 // signed, positive flows source -> target
	Decay    float64 // fractional coupling loss per step

	Age         uint64  // steps survived
	Transferred float64 // Σ |energy moved|
}

// weaken applies one step of decay. Coupling approaches zero but a link is
// never removed by decay alone.
func (l *Link) weaken() {
	l.Coupling *= 1 - l.Decay
	l.Age++
}

func (l *Link) touches(u UnitID) bool {
	return l.Source == u || l.Target == u
}

// other returns the endpoint opposite u.
func (l *Link) other(u UnitID) UnitID {
	if l.Source == u {
		return l.Target
	}
	return l.Source
}

// LinkView is a read-only copy of a link.
type LinkView struct {
	ID          LinkID  `json:"id"`
	Source      UnitID  `json:"source"`
	Target      UnitID  `json:"target"`
	Coupling    float64 `json:"coupling"`
	Momentum    float64 `json:"momentum"`
	Decay       float64 `json:"decay"`
	Age         uint64  `json:"age"`
	Transferred float64 `json:"transferred"`
}

func (l *Link) view() LinkView {
	return LinkView{
		ID:          l.ID,
		Source:      l.Source,
		Target:      l.Target,
		Coupling:    l.Coupling,
		Momentum:    l.Momentum,
		Decay:       l.Decay,
		Age:         l.Age,
		Transferred: l.Transferred,
	}
}

func linkKey(l *Link) LinkID { return l.ID }
