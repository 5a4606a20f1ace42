// Package client is the protrace Go SDK.
//
// It wraps the registry's HTTP API: fingerprinting images, registering them
// under duplicate detection, fetching and verifying Merkle inclusion proofs,
// and anchoring the tree root.
//
// # Registering an image
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("PROTRACE_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	img, _ := os.ReadFile("photo.jpg")
//	res, err := c.Register(ctx, img, client.RegisterOptions{Identifier: "photo-42"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Status == client.StatusRejected {
//	    fmt.Println("duplicate of", res.BestMatch.Identifier)
//	}
//
// # Verifying inclusion
//
// A proof bundle carries the leaf, its sibling path and the root it was
// computed against. Verification is local and needs no server:
//
//	b, _ := c.ProofFor(ctx, "photo-42")
//	ok, _ := b.Verify()
//
// VerifyRemote asks the server to perform the same check.
package client
