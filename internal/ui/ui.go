package ui

// UI receives progress updates while a turn is being answered.
type UI interface {
	UpdateStatus(status string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) Log(msg string)             {}
