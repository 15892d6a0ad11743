package dto

type MessageIdDTO struct {
	ID uint32
}

type SendMessagesDTO struct {
	ID *uint32
}

type NoteDTO struct {
	Recipient uint32
	Text      string
}
