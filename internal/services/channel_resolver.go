package services

import (
	"errors"
	"fmt"
	"strings"
)

// ChannelIDSeparator joins the two participant ids of a channel.
const ChannelIDSeparator = "_"

var (
	ErrInvalidUserID    = errors.New("无效的用户ID")
	ErrInvalidChannelID = errors.New("无效的频道ID")
)

// ResolveChannelID returns the channel identity for an unordered pair of users:
// the two ids sorted lexicographically and joined with "_".
// Ids are compared bytewise. For ASCII ids (Firebase UIDs) this is the same order as the
// UTF-16 code-unit sort web clients use, so both sides derive the same channel id.
func ResolveChannelID(idA, idB string) string {
	if idA > idB {
		idA, idB = idB, idA
	}
	return idA + ChannelIDSeparator + idB
}

// ParseChannelID splits a channel id back into its two participants, in sorted order.
func ParseChannelID(channelID string) (string, string, error) {
	parts := strings.Split(channelID, ChannelIDSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] > parts[1] {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidChannelID, channelID)
	}
	return parts[0], parts[1], nil
}

// ValidateParticipantID rejects ids that would make channel ids ambiguous.
func ValidateParticipantID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, ChannelIDSeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return nil
}
