package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type event struct {
	Event string      `json:"event"`
	ReqID string      `json:"req_id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

var reqCounter int

// send writes one event envelope to the server with a fresh request id.
func send(c *websocket.Conn, name string, data interface{}) error {
	reqCounter++
	evt := event{
		Event: name,
		ReqID: strconv.Itoa(reqCounter),
		Data:  data,
	}
	return c.WriteJSON(evt)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	userID := flag.String("user", "user-1", "user id to go online as")
	username := flag.String("name", "Tester", "display name")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			log.Printf("<- RECV: %s", string(message))
		}
	}()

	log.Println("Sending online handshake...")
	if err := send(c, "user:online", map[string]string{"user_id": *userID, "username": *username}); err != nil {
		log.Println("Write error:", err)
		return
	}

	fmt.Println(`Commands:
  create <name> <sync|async|solo>     create a table
  joincode <code>                     join a table by invite code
  join <tableID>                      subscribe to a table room
  say <tableID> <text>                send a chat message
  roll <tableID> <notation> [adv|dis] roll dice, e.g. roll t1 2d6+3 adv
  raw <json>                          send a raw event envelope`)

	// Write loop
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		default:
			text, _ := reader.ReadString('\n')
			fields := strings.Fields(strings.TrimSpace(text))
			if len(fields) == 0 {
				continue
			}

			var err error
			switch fields[0] {
			case "create":
				if len(fields) < 3 {
					log.Println("usage: create <name> <sync|async|solo>")
					continue
				}
				err = send(c, "table:create", map[string]string{"name": fields[1], "play_style": fields[2]})
			case "joincode":
				if len(fields) < 2 {
					log.Println("usage: joincode <code>")
					continue
				}
				err = send(c, "table:join-code", map[string]string{"invite_code": fields[1]})
			case "join":
				if len(fields) < 2 {
					log.Println("usage: join <tableID>")
					continue
				}
				err = send(c, "table:join", map[string]string{"table_id": fields[1]})
			case "say":
				if len(fields) < 3 {
					log.Println("usage: say <tableID> <text>")
					continue
				}
				err = send(c, "message:send", map[string]string{
					"table_id": fields[1],
					"content":  strings.Join(fields[2:], " "),
				})
			case "roll":
				if len(fields) < 3 {
					log.Println("usage: roll <tableID> <notation> [adv|dis]")
					continue
				}
				payload := map[string]interface{}{
					"table_id": fields[1],
					"notation": fields[2],
				}
				if len(fields) > 3 && fields[3] == "adv" {
					payload["advantage"] = true
				}
				if len(fields) > 3 && fields[3] == "dis" {
					payload["disadvantage"] = true
				}
				err = send(c, "dice:roll", payload)
			case "raw":
				var evt event
				if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(text)[4:]), &evt); jsonErr != nil {
					log.Println("Bad JSON:", jsonErr)
					continue
				}
				err = c.WriteJSON(evt)
			default:
				log.Printf("Unknown command %q", fields[0])
				continue
			}

			if err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT: %s", fields[0])
		}
	}
}
