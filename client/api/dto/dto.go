package dto

// This packages contains DTO (Data Transfer Object) structures
// for providing validated and sanitized values to service layer

type InitWalletDTO struct {
	Threshold     uint32
	Signers       uint32
	Label         string
	PublicAddress string
}

type SignerPatchDTO struct {
	Index            uint32
	Label            string
	TransportAddress string
	PublicAddress    string
}

type OptionDTO struct {
	Name  string
	Value string
}

type OptionNameDTO struct {
	Name string
}

type StartAutoConfigDTO struct {
	Labels []string
}

type AutoConfigTokenDTO struct {
	Token string
}

type NextDTO struct {
	Sync bool
}

type TransferDTO struct {
	Destination string
	Amount      uint64
}
