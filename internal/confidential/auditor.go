package confidential

// Auditor holds the optional auditing key for a mint. When enabled, every
// transfer on the mint must also carry the amount encrypted under ElGamalPK.
type Auditor struct {
	Mint      Pubkey
	Enabled   PodBool
	ElGamalPK ElGamalPubkey
}

func NewAuditor(mint Pubkey, enabled bool, pk ElGamalPubkey) Auditor {
	return Auditor{
		Mint:      mint,
		Enabled:   NewPodBool(enabled),
		ElGamalPK: pk,
	}
}

func (a *Auditor) IsAuditRequired() bool {
	return a.Enabled.Bool()
}

// AuditKey returns the auditor key only while auditing is enabled. A key left
// behind by SetEnabled(false) is never reported.
func (a *Auditor) AuditKey() (ElGamalPubkey, bool) {
	if !a.Enabled.Bool() {
		return ElGamalPubkey{}, false
	}
	return a.ElGamalPK, true
}

func (a *Auditor) SetEnabled(enabled bool) {
	a.Enabled = NewPodBool(enabled)
}

func (a *Auditor) SetKey(pk ElGamalPubkey) {
	a.ElGamalPK = pk
}
