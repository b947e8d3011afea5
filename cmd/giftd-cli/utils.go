package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var timeout = 15 * time.Minute

func decodeCardFlag(ctx *cli.Context) (domain.GiftCardContent, error) {
	var card domain.GiftCardContent
	if err := json.Unmarshal([]byte(ctx.String(cardFlagName)), &card); err != nil {
		return card, fmt.Errorf("invalid card JSON: %v", err)
	}
	return card, nil
}

func post(ctx *cli.Context, path string, body map[string]any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := ctx.String(urlFlagName) + path
	req, err := http.NewRequest("POST", url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	return doRequest(req)
}

func get(ctx *cli.Context, path string) error {
	url := ctx.String(urlFlagName) + path
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	return doRequest(req)
}

func doRequest(req *http.Request) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s", buf)
	}

	printJSON(buf)
	return nil
}

func printJSON(buf []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf, "", "  "); err != nil {
		fmt.Println(string(buf))
		return
	}
	fmt.Println(pretty.String())
}
