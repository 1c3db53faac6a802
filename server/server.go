package server

import (
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/rpgserver/asyncturn"
	"github.com/wfunc/rpgserver/broadcast"
	"github.com/wfunc/rpgserver/combat"
	"github.com/wfunc/rpgserver/config"
	"github.com/wfunc/rpgserver/dice"
	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/monitor"
	"github.com/wfunc/rpgserver/network"
	"github.com/wfunc/rpgserver/persistence"
	"github.com/wfunc/rpgserver/presence"
	"github.com/wfunc/rpgserver/room"
	adminrpc "github.com/wfunc/rpgserver/rpc"
	"github.com/wfunc/rpgserver/services"
	"github.com/wfunc/rpgserver/session"
	"github.com/wfunc/rpgserver/timer"
)

// SessionServer is the real-time orchestration layer: it owns the
// websocket endpoint, the per-connection sessions, and wires every domain
// manager to the shared broadcast substrate.
type SessionServer struct {
	addr           string
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	roomManager    *room.Manager
	broadcaster    room.Broadcaster
	scheduler      *timer.Scheduler
	tracker        *presence.Tracker
	tables         *services.TableService
	combat         *combat.Manager
	turns          *asyncturn.Manager
	rpcServer      *adminrpc.Server
	metrics        *monitor.Monitor
	shutdownChan   chan struct{}
}

func NewSessionServer(cfg *config.Config, store persistence.Store, presenceStore presence.Store) *SessionServer {
	s := &SessionServer{
		addr:           cfg.Server.HTTPAddress,
		sessionManager: session.NewManager(),
		roomManager:    room.NewManager(),
		scheduler:      timer.NewScheduler(),
		metrics:        monitor.NewMonitor("rpgserver"),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.broadcaster = broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager)
	s.tracker = presence.NewTracker(s.sessionManager, presenceStore, s.broadcaster, s.scheduler, cfg.Game.PresenceGrace())
	s.turns = asyncturn.NewManager(store, s.broadcaster, cfg.Game.TurnDeadline())
	s.combat = combat.NewManager(store, s.broadcaster, cfg.Game.MaxCombatants)
	s.tables = services.NewTableService(store, s.broadcaster, s.turns, dice.NewRoller(), cfg.Game.InviteCodeAttempts)

	rpcServer, err := adminrpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer
	rpc.Register(adminrpc.NewAdminService(store, s.turns))

	s.metrics.StartServer(cfg.Server.MetricsAddress)

	return s
}

func (s *SessionServer) Start() error {
	go s.rpcServer.Start()

	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("session server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, nil)
}

func (s *SessionServer) Shutdown() {
	close(s.shutdownChan)
	s.scheduler.Stop()
	s.rpcServer.Stop()
}

func (s *SessionServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *SessionServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.tracker.OnConnect(sess)
	s.metrics.IncOnlineUsers()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.ID)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.ID)
		// Remove the session before the presence grace check so a lone
		// tab closing counts as the user leaving.
		s.sessionManager.Remove(sess.ID)
		s.leaveAllRooms(sess)
		s.tracker.OnDisconnect(sess)
		s.metrics.DecOnlineUsers()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			evt, err := wsConn.ReadEvent()
			if err != nil {
				return
			}
			start := time.Now()
			s.metrics.IncEventsReceived()
			s.dispatch(sess, evt)
			s.metrics.ObserveEventLatency(time.Since(start))
		}
	}
}

func (s *SessionServer) leaveAllRooms(sess *session.Session) {
	userID, username := sess.Identity()
	for _, tableID := range sess.Tables() {
		s.roomManager.Leave(sess.ID, tableID)
		if userID != "" {
			s.broadcaster.BroadcastToRoom(tableID, network.EvtMemberLeft, memberPayload{
				TableID:  tableID,
				UserID:   userID,
				Username: username,
			}, "")
		}
	}
	s.metrics.SetActiveTables(s.roomManager.Count())
}
