package oscar

// Master is a pure accessor for the engine's global state.
type Master struct {
	binding *Binding
}

// NewMaster resolves the engine bound to KindMaster.
func NewMaster(b *Binding) (*Master, error) {
	if _, err := b.Resolve(KindMaster); err != nil {
		return nil, err
	}
	return &Master{binding: b}, nil
}

func (m *Master) engine() (Engine, error) {
	return m.binding.Resolve(KindMaster)
}

// Vol reads the master volume.
func (m *Master) Vol() (float64, error) {
	eng, err := m.engine()
	if err != nil {
		return 0, err
	}
	return eng.MasterVolume()
}

// SetVol writes the master volume.
func (m *Master) SetVol(v float64) error {
	eng, err := m.engine()
	if err != nil {
		return err
	}
	return eng.SetMasterVolume(v)
}

// Synths lists every synth known to the engine.
func (m *Master) Synths() ([]string, error) {
	eng, err := m.engine()
	if err != nil {
		return nil, err
	}
	return eng.Synths()
}

// Patches lists every patch known to the engine.
func (m *Master) Patches() ([]string, error) {
	eng, err := m.engine()
	if err != nil {
		return nil, err
	}
	return eng.Patches()
}

// StopAll stops every playing synth.
func (m *Master) StopAll() error {
	eng, err := m.engine()
	if err != nil {
		return err
	}
	return eng.StopAll()
}

// Shutdown tears the engine down and clears it from the binding. It must
// not run concurrently with any other proxy operation.
func (m *Master) Shutdown() error {
	eng, err := m.engine()
	if err != nil {
		return err
	}
	err = eng.Shutdown()
	m.binding.Release(eng)
	return err
}
