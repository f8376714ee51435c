package utils

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"settings_sync/internal/dataType"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrBadSignature     = errors.New("invalid message signature")
)

// Codec serializes envelopes. With a secret, every envelope is signed with
// HMAC-SHA512 over its unsigned JSON form and unsigned input is rejected.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	c := &Codec{}
	if secret != "" {
		c.secret = []byte(secret)
	}
	return c
}

func (c *Codec) Encode(msg dataType.Message) ([]byte, error) {
	msg.Signature = ""
	if c.secret == nil {
		return json.Marshal(msg)
	}
	unsigned, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	msg.Signature = c.sign(unsigned)
	return json.Marshal(msg)
}

func (c *Codec) Decode(raw []byte) (dataType.Message, error) {
	var msg dataType.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return dataType.Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" || msg.Source == "" {
		return dataType.Message{}, fmt.Errorf("%w: missing type or source", ErrMalformedMessage)
	}
	if c.secret == nil {
		return msg, nil
	}

	sigBytes, err := hex.DecodeString(msg.Signature)
	if err != nil || len(sigBytes) == 0 {
		return dataType.Message{}, ErrBadSignature
	}
	unsignedMsg := msg
	unsignedMsg.Signature = ""
	unsigned, err := json.Marshal(unsignedMsg)
	if err != nil {
		return dataType.Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	expected, _ := hex.DecodeString(c.sign(unsigned))
	if !hmac.Equal(sigBytes, expected) {
		return dataType.Message{}, ErrBadSignature
	}
	return msg, nil
}

func (c *Codec) sign(data []byte) string {
	mac := hmac.New(sha512.New, c.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
