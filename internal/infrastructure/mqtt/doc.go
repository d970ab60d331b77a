// Package mqtt announces the device on an MQTT broker.
//
// MQTT is optional for the data sink. When enabled the daemon:
//   - publishes a retained "online" status on connect and reconnect
//   - publishes a retained "offline" status on graceful shutdown
//   - leaves a Last Will so the broker publishes "offline" after a crash
//   - publishes a config_updated event after each configuration change
//
// # Topics
//
//	hnode2/device/{deviceType}/{instance}/status   retained presence
//	hnode2/device/{deviceType}/{instance}/config   config change events
//
// # Usage
//
//	topics := mqtt.Topics{DeviceType: datasink.DeviceType, Instance: "default"}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishConfigUpdated(hnodeID, cfg.SectionIDs())
package mqtt
