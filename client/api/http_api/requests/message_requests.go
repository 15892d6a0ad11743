package requests

type MessageIdForm struct {
	ID uint32 `query:"id" json:"id"`
}

type SendMessagesForm struct {
	ID *uint32 `query:"id" json:"id"`
}

type NoteForm struct {
	Recipient uint32 `query:"recipient" json:"recipient"`
	Text      string `query:"text" json:"text" validate:"attr=text,min=1"`
}
