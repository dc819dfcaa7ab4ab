// Package destination models one backup destination: its medium class,
// lane width, live counters, and the pluggable storage Backend it writes
// through (§3 DestinationState, §4.3 medium policy).
package destination

// MediumClass classifies the connection/medium of a destination mount
// point, as returned by the drive-probe collaborator (§6.4).
type MediumClass int

// Medium classes, per §3/§4.3.
const (
	MediumUnknown MediumClass = iota
	MediumInternal
	MediumPortableSSD
	MediumExternalHDD
	MediumRemovableCard
	MediumNetwork
)

func (m MediumClass) String() string {
	switch m {
	case MediumInternal:
		return "internal"
	case MediumPortableSSD:
		return "portable_ssd"
	case MediumExternalHDD:
		return "external_hdd"
	case MediumRemovableCard:
		return "removable_card"
	case MediumNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// laneWidth is the single source of truth for intra-destination
// parallelism by medium class (§4.3's policy table).
func (m MediumClass) laneWidth() int {
	switch m {
	case MediumInternal, MediumPortableSSD:
		return 6
	case MediumExternalHDD:
		return 2
	case MediumRemovableCard:
		return 1
	case MediumNetwork:
		return 1
	default:
		return 2
	}
}

// LaneWidth returns the number of concurrent file operations permitted for
// this destination, given whether a network destination is present
// elsewhere in the same run. A non-network destination sharing a run with
// a network destination is de-promoted one tier to reduce bus contention
// (§4.3).
func (m MediumClass) LaneWidth(networkPresentElsewhere bool) int {
	w := m.laneWidth()

	if m != MediumNetwork && networkPresentElsewhere {
		w = demoteOneTier(w)
	}

	return w
}

func demoteOneTier(width int) int {
	switch {
	case width >= 6:
		return 2
	case width >= 2:
		return 1
	default:
		return 1
	}
}
