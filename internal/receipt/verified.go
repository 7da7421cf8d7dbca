package receipt

import "time"

// Verified is the marker produced by a validator once a receipt's origin and
// environment have been established. Transaction records are only ever
// decoded from a Verified payload.
type Verified struct {
	format      Format
	environment Environment
	payload     []byte
	verifiedAt  time.Time
}

// MarkVerified is called by validators after a successful verification.
// payload is the trusted JSON document the records are decoded from.
func MarkVerified(format Format, environment Environment, payload []byte, at time.Time) *Verified {
	return &Verified{format: format, environment: environment, payload: payload, verifiedAt: at}
}

func (v *Verified) Format() Format           { return v.format }
func (v *Verified) Environment() Environment { return v.environment }
func (v *Verified) Payload() []byte          { return v.payload }
func (v *Verified) VerifiedAt() time.Time    { return v.verifiedAt }
