package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type client struct {
	base  string
	token string
}

type result struct {
	status int
	body   map[string]interface{}
	raw    []byte
}

func (c *client) call(method, path string, payload interface{}) result {
	var reader io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		log.Fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	res := result{status: resp.StatusCode, raw: raw}
	_ = json.Unmarshal(raw, &res.body)
	return res
}

func expect(res result, status int, code string, what string) result {
	if res.status != status {
		log.Fatalf("✗ %s: expected %d, got %d %s", what, status, res.status, res.raw)
	}
	if code != "" && res.body["code"] != code {
		log.Fatalf("✗ %s: expected code %s, got %s", what, code, res.raw)
	}
	fmt.Printf("   ✓ %s\n", what)
	return res
}

func field(m map[string]interface{}, path ...string) string {
	var cur interface{} = m
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return s
}

func main() {
	base := os.Getenv("SMOKE_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	base = strings.TrimRight(base, "/")
	run := time.Now().UnixNano()
	emailA := fmt.Sprintf("a+%d@smoke.test", run)
	emailB := fmt.Sprintf("b+%d@smoke.test", run)
	emailC := fmt.Sprintf("c+%d@smoke.test", run)

	fmt.Println("=== Flightplan Gateway Smoke Test ===")

	fmt.Println("\n1. Sign up and create organization...")
	a := &client{base: base}
	res := expect(a.call(http.MethodPost, "/v1/auth/sign-up", map[string]string{"email": emailA, "password": "smoke-password"}), http.StatusCreated, "", "sign up A")
	a.token = field(res.body, "token")
	res = expect(a.call(http.MethodPost, "/v1/organizations", map[string]string{"name": fmt.Sprintf("Acme %d", run)}), http.StatusCreated, "", "create Acme")
	orgID := field(res.body, "id")

	fmt.Println("\n2. Invite twice, accept twice...")
	invitePath := "/v1/organizations/" + orgID + "/invitations"
	res = expect(a.call(http.MethodPost, invitePath, map[string]string{"email": emailB, "role": "member"}), http.StatusCreated, "", "invite B")
	invitationID := field(res.body, "invitation", "id")
	res = expect(a.call(http.MethodPost, invitePath, map[string]string{"email": emailB, "role": "member"}), http.StatusOK, "", "invite B again")
	if field(res.body, "invitation", "id") != invitationID {
		log.Fatalf("✗ re-invite created a second invitation: %s", res.raw)
	}
	var pending []map[string]interface{}
	_ = json.Unmarshal(a.call(http.MethodGet, invitePath, nil).raw, &pending)
	if len(pending) != 1 {
		log.Fatalf("✗ expected one pending invitation, got %d", len(pending))
	}
	fmt.Println("   ✓ one pending invitation")

	b := &client{base: base}
	res = expect(b.call(http.MethodPost, "/v1/auth/sign-up", map[string]string{"email": emailB, "password": "smoke-password"}), http.StatusCreated, "", "sign up B")
	b.token = field(res.body, "token")
	expect(b.call(http.MethodPost, "/v1/invitations/"+invitationID+"/accept", nil), http.StatusOK, "", "B accepts")
	expect(b.call(http.MethodPost, "/v1/invitations/"+invitationID+"/accept", nil), http.StatusOK, "", "B accepts again")

	fmt.Println("\n3. Sole owner cannot remove themselves...")
	expect(a.call(http.MethodDelete, "/v1/organizations/"+orgID+"/members/"+emailA, nil), http.StatusConflict, "CANNOT_REMOVE_OWNER", "A removing A fails")

	fmt.Println("\n4. Canceled invitations cannot be accepted...")
	res = expect(a.call(http.MethodPost, invitePath, map[string]string{"email": emailC, "role": "admin"}), http.StatusCreated, "", "invite C")
	canceledID := field(res.body, "invitation", "id")
	expect(a.call(http.MethodDelete, "/v1/invitations/"+canceledID, nil), http.StatusNoContent, "", "cancel C")
	c := &client{base: base}
	res = expect(c.call(http.MethodPost, "/v1/auth/sign-up", map[string]string{"email": emailC, "password": "smoke-password"}), http.StatusCreated, "", "sign up C")
	c.token = field(res.body, "token")
	expect(c.call(http.MethodPost, "/v1/invitations/"+canceledID+"/accept", nil), http.StatusConflict, "INVITATION_NOT_PENDING", "C accepting fails")

	fmt.Println("\n5. API key lifecycle...")
	res = expect(a.call(http.MethodPost, "/v1/api-keys", map[string]string{"name": "smoke"}), http.StatusCreated, "", "create key")
	keyID, secret := field(res.body, "id"), field(res.body, "key")
	list := a.call(http.MethodGet, "/v1/api-keys", nil)
	if bytes.Contains(list.raw, []byte(secret)) {
		log.Fatal("✗ key listing contains the secret")
	}
	fmt.Println("   ✓ listing hides the secret")
	keyClient := &client{base: base, token: secret}
	expect(keyClient.call(http.MethodGet, "/v1/organizations/"+orgID, nil), http.StatusOK, "", "key authenticates")
	expect(a.call(http.MethodDelete, "/v1/api-keys/"+keyID, nil), http.StatusNoContent, "", "revoke key")
	expect(keyClient.call(http.MethodGet, "/v1/organizations/"+orgID, nil), http.StatusUnauthorized, "UNAUTHENTICATED", "revoked key rejected")

	fmt.Println("\n=== Smoke Test Complete ===")
}
