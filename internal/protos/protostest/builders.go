// Package protostest builds serialized response payloads for tests.
package protostest

import (
	"encoding/base64"

	"google.golang.org/protobuf/encoding/protowire"
)

// GMO returns a GetMapObjects response with the given number of map cells.
func GMO(cells int) []byte {
	var b []byte
	for i := 0; i < cells; i++ {
		cell := protowire.AppendTag(nil, 1, protowire.VarintType)
		cell = protowire.AppendVarint(cell, uint64(1000+i))
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, cell)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

// FortSearch returns a FortSearch response. A quest is attached when withQuest
// is set, carrying a reward when withRewards is set.
func FortSearch(result int, fortID string, withQuest, withRewards bool) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(result))
	if fortID != "" {
		b = protowire.AppendTag(b, 13, protowire.BytesType)
		b = protowire.AppendString(b, fortID)
	}
	if withQuest {
		var quest []byte
		quest = protowire.AppendTag(quest, 2, protowire.VarintType)
		quest = protowire.AppendVarint(quest, 7)
		if withRewards {
			reward := protowire.AppendTag(nil, 1, protowire.VarintType)
			reward = protowire.AppendVarint(reward, 2)
			quest = protowire.AppendTag(quest, 16, protowire.BytesType)
			quest = protowire.AppendBytes(quest, reward)
		}
		client := protowire.AppendTag(nil, 1, protowire.BytesType)
		client = protowire.AppendBytes(client, quest)
		b = protowire.AppendTag(b, 14, protowire.BytesType)
		b = protowire.AppendBytes(b, client)
	}
	return b
}

// Encounter returns an Encounter response with the given status.
func Encounter(status int) []byte {
	b := protowire.AppendTag(nil, 3, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(status))
}

// GetRoutes returns a GetRoutes response with the given number of route cells.
func GetRoutes(cells int) []byte {
	var b []byte
	for i := 0; i < cells; i++ {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte{0x08, 0x01})
	}
	return b
}

// Base64 encodes a payload the way devices post it.
func Base64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
