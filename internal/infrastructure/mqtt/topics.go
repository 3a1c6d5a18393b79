package mqtt

import "fmt"

// TopicPrefixSystem is the base for client status topics.
const TopicPrefixSystem = "graylogic/system"

// StatusTopic returns the retained online/offline topic for a client.
//
// Example: graylogic/system/graylogic-lightify/status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixSystem, clientID)
}
