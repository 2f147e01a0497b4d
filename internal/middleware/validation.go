package middleware

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-orchestrator/internal/model"
)

const (
	maxContentLength = 100000
	maxModels        = 16
	maxModelIDLength = 128
	maxFiles         = 32
)

// ValidateMessageContent validates message content. Emptiness is left to the
// orchestrator, which accepts file-only turns.
func ValidateMessageContent(content string) error {
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateModelIDs bounds the model list of a turn.
func ValidateModelIDs(ids []string) error {
	if len(ids) > maxModels {
		return fmt.Errorf("at most %d models per message", maxModels)
	}
	for _, id := range ids {
		if len(id) > maxModelIDLength {
			return errors.New("model ID exceeds maximum length")
		}
	}
	return nil
}

// ValidateFiles bounds the attachments of a turn.
func ValidateFiles(files []model.File) error {
	if len(files) > maxFiles {
		return fmt.Errorf("at most %d files per message", maxFiles)
	}
	for _, f := range files {
		if f.Name == "" && f.URL == "" && f.ID == "" {
			return errors.New("file reference needs an id, name or url")
		}
	}
	return nil
}

// ValidateSubmit validates a submission body.
func ValidateSubmit(req *model.SubmitRequest) error {
	if err := ValidateMessageContent(req.Content); err != nil {
		return err
	}
	if err := ValidateModelIDs(req.Models); err != nil {
		return err
	}
	return ValidateFiles(req.Files)
}
