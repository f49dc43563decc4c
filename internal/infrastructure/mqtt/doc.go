// Package mqtt provides MQTT client connectivity for mqttroute.
//
// This package manages:
//   - Connection to one or more broker URIs with auto-reconnect
//   - Message publishing, blocking or with a completion callback
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - One message handler per connection, called once per inbound PUBLISH
//   - Last Will and Testament (LWT) from configuration
//   - Connection health monitoring
//
// Each Client corresponds to one resolved config.ClientConfig. Routing and
// dispatch live elsewhere; this package only moves messages.
//
// # Security Considerations
//
//   - Use ssl:// URIs with a CA file for production deployments
//   - Client certificates are loaded from cert_file/key_file
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(clientCfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetMessageHandler(func(msg mqtt.Message) error {
//	    log.Printf("Received: %s = %s", msg.Topic, msg.Payload)
//	    return nil
//	})
//	err = client.SubscribeMultiple(map[string]byte{"sensors/+/temperature": 1})
//
//	client.Publish("actuators/fan", []byte("on"), 1, false)
package mqtt
