package destination

// ProbeResult is what the drive-probe collaborator reports for a mount
// point (§6.4).
type ProbeResult struct {
	MediumClass  MediumClass
	EstWriteMBps float64
	FreeBytes    int64
	DisplayName  string
}

// Prober is the external drive-probe collaborator contract: it returns the
// connection class, medium, and a rough write-speed estimate for a mount
// point. Returning MediumUnknown is always permissible; callers use the
// conservative lane-width tier in that case.
type Prober interface {
	ProbeDestination(path string) (ProbeResult, error)
}
