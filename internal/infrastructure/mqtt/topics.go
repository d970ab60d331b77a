package mqtt

import "fmt"

// TopicPrefixDevice is the base for all HNode2 device topics.
const TopicPrefixDevice = "hnode2/device"

// Topics builds the topics of one device instance.
//
//	topics := mqtt.Topics{DeviceType: "hnode2-datasink-device", Instance: "default"}
//	topics.DeviceStatus()
//	// Returns: "hnode2/device/hnode2-datasink-device/default/status"
type Topics struct {
	DeviceType string
	Instance   string
}

// DeviceStatus returns the retained online/offline status topic.
//
// Example: hnode2/device/hnode2-datasink-device/default/status
func (t Topics) DeviceStatus() string {
	return fmt.Sprintf("%s/%s/%s/status", TopicPrefixDevice, t.DeviceType, t.Instance)
}

// DeviceConfig returns the topic carrying configuration change events.
//
// Example: hnode2/device/hnode2-datasink-device/default/config
func (t Topics) DeviceConfig() string {
	return fmt.Sprintf("%s/%s/%s/config", TopicPrefixDevice, t.DeviceType, t.Instance)
}

// AllDeviceStatus returns a pattern matching the status of every device.
//
// Pattern: hnode2/device/+/+/status
func (Topics) AllDeviceStatus() string {
	return TopicPrefixDevice + "/+/+/status"
}
