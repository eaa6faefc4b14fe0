package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
)

const pushTokenValidSec = 3600 * 4

// pushRoomPayload is the room-scoped token payload (token04 format).
type pushRoomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// GeneratePushToken creates a relay token for an external-push ingest
// session. Hosts can publish; everyone else can only pull the stream.
func GeneratePushToken(appID uint32, serverSecret, roomID, principalID string, canPublish bool) (string, error) {
	if appID == 0 || serverSecret == "" {
		return "", fmt.Errorf("push: app_id and server_secret required")
	}
	if len(serverSecret) != 32 {
		return "", fmt.Errorf("push: server_secret must be 32 characters")
	}
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if canPublish {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payload := pushRoomPayload{RoomID: roomID, Privilege: privilege}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("push: marshal payload: %w", err)
	}
	return token04.GenerateToken04(appID, principalID, serverSecret, pushTokenValidSec, string(payloadJSON))
}
