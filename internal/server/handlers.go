package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/http"

	"github.com/Tyrowin/veilchat/internal/room"
)

// newRoomTokenBytes is the entropy of a generated room link.
const newRoomTokenBytes = 16

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and registers it with the hub,
// which starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infof("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, s.hub, s.coord, r.RemoteAddr, s.cfg.MaxMessageSize)
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "veilchat server is running (%d rooms, %d connections)\n",
		s.coord.RoomCount(), s.hub.ClientCount())
}

// NewRoomHandler redirects to a freshly generated room link.
func (s *Server) NewRoomHandler(w http.ResponseWriter, r *http.Request) {
	var b [newRoomTokenBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		s.log.Errorf("Failed to generate room token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/r/"+hex.EncodeToString(b[:]), http.StatusFound)
}

// RoomPageHandler serves the diagnostic page of one room. The page speaks
// the wire protocol directly and does no encryption of its own.
func (s *Server) RoomPageHandler(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if !room.ValidToken(token) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	if err := roomPage.Execute(w, struct{ Token string }{token}); err != nil {
		s.log.Warningf("Error writing HTML response: %v", err)
	}
}

var roomPage = template.Must(template.New("room").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>veilchat room</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] {
            width: 200px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room diagnostics</h1>
    <p>Payloads sent from this page are not encrypted.</p>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="password" id="passwordInput" placeholder="Room password (optional)">
        <button id="connectButton" onclick="toggleConnection()">Join</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        const roomToken = {{.Token}};
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        let sessionId = sessionStorage.getItem('session:' + roomToken);
        if (!sessionId) {
            sessionId = crypto.randomUUID();
            sessionStorage.setItem('session:' + roomToken, sessionId);
        }

        function addMessage(text) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Leave' : 'Join';
        }

        function send(type, data) {
            ws.send(JSON.stringify({type: type, data: data}));
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                send('join', {
                    roomToken: roomToken,
                    sessionId: sessionId,
                    password: document.getElementById('passwordInput').value || undefined
                });
            };

            ws.onmessage = function(event) {
                addMessage(event.data);
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                send('chat-message', {ciphertext: btoa(unescape(encodeURIComponent(message)))});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            } else {
                send('typing', {isTyping: true});
            }
        });
    </script>
</body>
</html>`))
