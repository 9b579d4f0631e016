// passgen issues encrypted QR gate passes for a ticket, for door lists and
// comp tickets created outside the purchase flow.
//
//	passgen -ticket tck_123 -event evt_friday -out pass.png
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"gate-scanner/internal/qr"
)

func main() {
	_ = godotenv.Load()

	ticketID := flag.String("ticket", "", "ticket id to encode")
	eventID := flag.String("event", "", "event id (optional, display context)")
	out := flag.String("out", "pass.png", "output PNG path")
	flag.Parse()

	if *ticketID == "" {
		flag.Usage()
		os.Exit(2)
	}

	secret := os.Getenv("QR_SECRET_KEY")
	if secret == "" {
		log.Fatal("QR_SECRET_KEY not set")
	}

	codec := qr.NewCodec(secret)
	png, err := codec.EncodePass(qr.Pass{
		TicketID: *ticketID,
		EventID:  *eventID,
		IssuedAt: time.Now().Unix(),
	})
	if err != nil {
		log.Fatalf("failed to encode pass: %v", err)
	}

	if err := os.WriteFile(*out, png, 0644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	fmt.Printf("✅ Pass written to %s\n", *out)
}
