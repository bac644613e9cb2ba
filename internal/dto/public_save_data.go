package dto

// KeychainResponse is the public outcome of a finished key generation. It
// can be shared freely between the parties and with the wallet layer.
type KeychainResponse struct {
	CommonKeychain string         `json:"commonKeychain"`
	PublicKey      string         `json:"publicKey"`
	ChainCode      string         `json:"chainCode"`
	PublicShares   map[int]string `json:"publicShares,omitempty"` // party index to hex point, ECDSA only
}
