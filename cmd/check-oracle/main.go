package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ftlgym/gatecheck/internal/landmark"
)

// check-oracle probes the two external services the verification flow
// depends on and summarizes local verification history.
func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./gatecheck.db"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	fmt.Println("Checking verification dependencies")
	fmt.Println("==================================")

	faceAPIURL := os.Getenv("FACE_API_URL")
	if faceAPIURL == "" {
		fmt.Println("WARNING: FACE_API_URL not set; the oracle cannot be probed")
	} else {
		fmt.Printf("Face matching service: %s\n", faceAPIURL)
	}

	faceMeshURL := os.Getenv("FACE_MESH_URL")
	if faceMeshURL == "" {
		fmt.Println("WARNING: FACE_MESH_URL not set; landmark detection unavailable")
	} else {
		fmt.Printf("Face mesh service:     %s\n", faceMeshURL)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := landmark.NewMeshClient(faceMeshURL).Warmup(ctx)
		cancel()
		if err != nil {
			fmt.Printf("  mesh warmup FAILED: %v\n", err)
		} else {
			fmt.Println("  mesh warmup OK")
		}
	}
	fmt.Println()

	var total, verified int
	if err := db.QueryRow("SELECT COUNT(*) FROM verification_events").Scan(&total); err != nil {
		log.Fatal("Failed to count events:", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM verification_events WHERE verified = 1").Scan(&verified); err != nil {
		log.Fatal("Failed to count verified events:", err)
	}

	fmt.Printf("Verification events: %d total, %d verified, %d failed\n", total, verified, total-verified)

	rows, err := db.Query(`
		SELECT role, COUNT(*) FROM verification_events
		GROUP BY role ORDER BY role`)
	if err != nil {
		log.Fatal("Failed to group events:", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			log.Fatal("Failed to scan:", err)
		}
		fmt.Printf("  %-8s %d\n", role, count)
	}
}
