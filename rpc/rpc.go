package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"

	"github.com/wfunc/rpgserver/asyncturn"
	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/models"
	"github.com/wfunc/rpgserver/persistence"
)

// Server manages the admin RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AdminService exposes read-only table inspection over net/rpc for ops
// tooling. Method signatures follow the net/rpc contract.
type AdminService struct {
	store persistence.Store
	turns *asyncturn.Manager
}

func NewAdminService(store persistence.Store, turns *asyncturn.Manager) *AdminService {
	return &AdminService{store: store, turns: turns}
}

type GetTableArgs struct {
	TableID string
}

type GetTableReply struct {
	Table     *models.Table
	Encounter *models.Encounter // nil when no combat is active
}

func (as *AdminService) GetTableStats(args *GetTableArgs, reply *GetTableReply) error {
	ctx := context.Background()

	table, err := as.store.GetTable(ctx, args.TableID)
	if err != nil {
		return err
	}
	reply.Table = table

	encounter, err := as.store.GetActiveEncounter(ctx, args.TableID)
	if err == nil {
		reply.Encounter = encounter
	} else if !errors.Is(err, persistence.ErrRecordNotFound) {
		return err
	}
	return nil
}

type TurnHistoryArgs struct {
	TableID string
}

type TurnHistoryReply struct {
	Turns []models.AsyncTurn
}

func (as *AdminService) GetAsyncTurnHistory(args *TurnHistoryArgs, reply *TurnHistoryReply) error {
	turns, err := as.turns.GetTurnHistory(context.Background(), args.TableID)
	if err != nil {
		return err
	}
	reply.Turns = turns
	return nil
}
