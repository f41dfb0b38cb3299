package runtime

const (
	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	exemptionThreshold     = 2
)

// RentExemptMinimum returns the lamports an account of space bytes must hold to be
// rent exempt.
func RentExemptMinimum(space uint64) uint64 {
	return (accountStorageOverhead + space) * lamportsPerByteYear * exemptionThreshold
}
