package requests

type InitWalletForm struct {
	Threshold     uint32 `query:"threshold" json:"threshold"`
	Signers       uint32 `query:"signers" json:"signers"`
	Label         string `query:"label" json:"label" validate:"attr=label,min=1"`
	PublicAddress string `query:"public_address" json:"public_address"`
}

type SignerPatchForm struct {
	Index            uint32 `query:"index" json:"index"`
	Label            string `query:"label" json:"label"`
	TransportAddress string `query:"transport_address" json:"transport_address"`
	PublicAddress    string `query:"public_address" json:"public_address"`
}

type OptionForm struct {
	Name  string `query:"name" json:"name" validate:"attr=name,min=1"`
	Value string `query:"value" json:"value"`
}

type OptionNameForm struct {
	Name string `query:"name" json:"name" validate:"attr=name,min=1"`
}

type StartAutoConfigForm struct {
	Labels []string `json:"labels"`
}

type AutoConfigTokenForm struct {
	Token string `query:"token" json:"token" validate:"attr=token,min=8"`
}

type NextForm struct {
	Sync bool `query:"sync" json:"sync"`
}

type TransferForm struct {
	Destination string `query:"destination" json:"destination" validate:"attr=destination,min=1"`
	Amount      uint64 `query:"amount" json:"amount"`
}
