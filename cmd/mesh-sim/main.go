// mesh-sim publishes synthetic mesh packets to an MQTT broker for end-to-end
// testing of the ingestion pipeline. It encodes adverts or group texts with
// the meshcore codec and wraps the hex in a JSON payload the way typical
// gateway bridges do.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"meshmap/server/internal/meshcore"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	topic := flag.String("topic", "meshcore/sim", "Topic to publish packets on")
	mode := flag.String("mode", "group-text", "Packet kind to publish: advert or group-text")
	secret := flag.String("secret", "wardrive-demo", "Channel secret used to seal group texts")
	sender := flag.String("sender", "sim-node", "Sender name embedded in group texts")
	message := flag.String("message", "hello from mesh-sim 12.34, -56.78", "Group text body")
	lat := flag.Float64("lat", -37.8136, "Advert latitude")
	lon := flag.Float64("lon", 144.9631, "Advert longitude")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published packets")
	bareHex := flag.Bool("bare-hex", false, "Publish the packet hex directly instead of a JSON envelope")

	flag.Parse()

	clientID := fmt.Sprintf("mesh-sim-%s", uuid.NewString()[:8])
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)
	log.Printf("channel hash for secret: %s", meshcore.ChannelHash(*secret))

	publicKey := make([]byte, 32)
	if _, err := rand.Read(publicKey); err != nil {
		log.Fatalf("failed to generate public key: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	publish := func() {
		var packetHex string
		var err error

		switch *mode {
		case "advert":
			packetHex, err = meshcore.EncodeAdvert(publicKey, time.Now().Unix(), *sender, &meshcore.GeoPoint{
				Latitude:  *lat,
				Longitude: *lon,
			}, nil)
		case "group-text":
			packetHex, err = meshcore.EncodeGroupText(*secret, time.Now().Unix(), *sender, *message, nil)
		default:
			log.Fatalf("unknown mode %q", *mode)
		}
		if err != nil {
			log.Printf("failed to encode packet: %v", err)
			return
		}

		payload := []byte(packetHex)
		if !*bareHex {
			payload, err = json.Marshal(map[string]string{"packetHex": packetHex})
			if err != nil {
				log.Printf("failed to encode payload: %v", err)
				return
			}
		}

		token := client.Publish(*topic, 0, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s packet to %s (%d hex chars)", *mode, *topic, len(packetHex))
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}
