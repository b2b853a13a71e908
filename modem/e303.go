package modem

// E303 drives a Huawei E303 USB dongle. It has no AT socket commands.
type E303 struct {
	*Modem
}

// NewE303 returns an unconnected E303 session. Zero fields of config take
// the E303 defaults: 9600 baud and a 200 second timeout.
func NewE303(config Config) (*E303, error) {
	m, err := newModem(E303Profile(), config)
	if err != nil {
		return nil, err
	}
	return &E303{Modem: m}, nil
}
