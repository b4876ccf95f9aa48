package server

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/internal/rexec"
	"github.com/easyshare/easyshare/internal/server/sharingsvc"
	"github.com/easyshare/easyshare/pkg/metrics"
	"github.com/easyshare/easyshare/pkg/transfer"
)

// handler executes one RPC method and returns its data payload.
type handler func(sess *Session, params map[string]any) (any, error)

// methodEntry couples a handler with its preconditions.
type methodEntry struct {
	handle handler

	// public methods skip the authentication gate.
	public bool

	// bound methods require an open sharing.
	bound bool

	// write methods are refused on read-only sharings.
	write bool
}

// methodTable is the fixed dispatch table. Unknown method names become
// InvalidArgument.
var methodTable = map[string]methodEntry{
	proto.MethodPing:        {handle: handlePing, public: true},
	proto.MethodInfo:        {handle: handleInfo, public: true},
	proto.MethodList:        {handle: handleList, public: true},
	proto.MethodAuth:        {handle: handleAuth, public: true},
	proto.MethodOpen:        {handle: handleOpen},
	proto.MethodClose:       {handle: handleClose, bound: true},
	proto.MethodRpwd:        {handle: handleRpwd, bound: true},
	proto.MethodRcd:         {handle: handleRcd, bound: true},
	proto.MethodRls:         {handle: handleRls, bound: true},
	proto.MethodRtree:       {handle: handleRtree, bound: true},
	proto.MethodRmkdir:      {handle: handleRmkdir, bound: true, write: true},
	proto.MethodRmv:         {handle: handleRmv, bound: true, write: true},
	proto.MethodRcp:         {handle: handleRcp, bound: true, write: true},
	proto.MethodRrm:         {handle: handleRrm, bound: true, write: true},
	proto.MethodRfind:       {handle: handleRfind, bound: true},
	proto.MethodGet:         {handle: handleGet, bound: true},
	proto.MethodPut:         {handle: handlePut, bound: true, write: true},
	proto.MethodPutDecision: {handle: handlePutDecision, bound: true},
	proto.MethodRexec:       {handle: handleRexec},
	proto.MethodRshell:      {handle: handleRshell},
}

// decodeRequest parses a raw control frame. A malformed frame is a
// protocol violation, not an RPC error.
func decodeRequest(payload []byte) (*proto.Request, error) {
	var req proto.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, proto.NewError(proto.ErrProtocol, err.Error())
	}
	if req.Method == "" {
		return nil, proto.NewError(proto.ErrProtocol, "request has no method")
	}
	return &req, nil
}

// dispatch runs one request against the method table and maps the result
// to a response envelope.
func (sess *Session) dispatch(req *proto.Request) *proto.Response {
	metrics.RecordRPC(req.Method)

	entry, ok := methodTable[req.Method]
	if !ok {
		logger.Debug("Unknown method", "session_id", sess.id, "method", req.Method)
		return &proto.Response{Error: proto.ErrInvalidArgument}
	}

	if !entry.public && !sess.server.cred.Empty() && !sess.authenticated {
		return &proto.Response{Error: proto.ErrAuthRequired}
	}
	if entry.bound && sess.svc == nil {
		return &proto.Response{Error: proto.ErrNotBound}
	}
	if entry.write && sess.svc != nil && sess.svc.Sharing().ReadOnly {
		return &proto.Response{Error: proto.ErrReadOnly}
	}

	data, err := entry.handle(sess, req.Params)
	if err != nil {
		logger.Debug("RPC failed", "session_id", sess.id,
			"method", req.Method, "error", err)
		return proto.ErrResponse(err)
	}
	resp, err := proto.OkResponse(data)
	if err != nil {
		return &proto.Response{Error: proto.ErrInvalidArgument}
	}
	return resp
}

// decodeParams maps the request params object onto a typed record.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return proto.NewError(proto.ErrInvalidArgument, err.Error())
	}
	if err := dec.Decode(params); err != nil {
		return proto.NewError(proto.ErrInvalidArgument, err.Error())
	}
	return nil
}

func handlePing(sess *Session, params map[string]any) (any, error) {
	echo, _ := params["echo"].(string)
	return proto.PingData{Echo: echo, Time: time.Now().UnixNano()}, nil
}

func handleInfo(sess *Session, _ map[string]any) (any, error) {
	return sess.server.Descriptor(), nil
}

func handleList(sess *Session, _ map[string]any) (any, error) {
	return sess.server.registry.Descriptors(), nil
}

func handleAuth(sess *Session, params map[string]any) (any, error) {
	var args proto.AuthParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if !sess.server.cred.Verify(args.Password) {
		logger.Warn("Authentication failed", "session_id", sess.id, "peer", sess.remoteHost)
		return nil, proto.NewError(proto.ErrAuthFailed, "bad password")
	}
	sess.authenticated = true
	logger.Info("Session authenticated", "session_id", sess.id)
	return nil, nil
}

func handleOpen(sess *Session, params map[string]any) (any, error) {
	if sess.svc != nil {
		return nil, proto.Errorf(proto.ErrAlreadyBound, "sharing %q is open", sess.svc.Sharing().Name)
	}
	var args proto.OpenParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	sharing, err := sess.server.registry.Get(args.Name)
	if err != nil {
		return nil, err
	}
	svc, err := sharingsvc.New(sharing)
	if err != nil {
		return nil, err
	}
	sess.svc = svc
	sess.cwd = svc.Resolver().Root()
	logger.Info("Sharing opened", "session_id", sess.id, "sharing", sharing.Name)
	return sharing.Descriptor(), nil
}

func handleClose(sess *Session, _ map[string]any) (any, error) {
	logger.Info("Sharing closed", "session_id", sess.id, "sharing", sess.svc.Sharing().Name)
	sess.svc = nil
	sess.cwd = ""
	return nil, nil
}

func handleRpwd(sess *Session, _ map[string]any) (any, error) {
	return proto.PwdData{Path: sess.svc.Resolver().Rel(sess.cwd)}, nil
}

func handleRcd(sess *Session, params map[string]any) (any, error) {
	var args proto.PathParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	p, err := sess.svc.Resolver().Resolve(sess.cwd, args.Path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, proto.MapFSError(err)
	}
	if !fi.IsDir() {
		return nil, proto.Errorf(proto.ErrNotADirectory, "%q is not a directory", args.Path)
	}
	sess.cwd = p
	return proto.PwdData{Path: sess.svc.Resolver().Rel(p)}, nil
}

func handleRls(sess *Session, params map[string]any) (any, error) {
	var args proto.LsParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	entries, err := sess.svc.Ls(sess.cwd, args.Path, args.Flags)
	if err != nil {
		return nil, err
	}
	return proto.LsData{Entries: entries}, nil
}

func handleRtree(sess *Session, params map[string]any) (any, error) {
	var args proto.TreeParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	entries, err := sess.svc.Tree(sess.cwd, args.Path, args.MaxDepth, args.Flags)
	if err != nil {
		return nil, err
	}
	return proto.TreeData{Entries: entries}, nil
}

func handleRmkdir(sess *Session, params map[string]any) (any, error) {
	var args proto.PathParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, proto.NewError(proto.ErrInvalidArgument, "missing path")
	}
	return nil, sess.svc.Mkdir(sess.cwd, args.Path)
}

func handleRmv(sess *Session, params map[string]any) (any, error) {
	var args proto.MoveParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	outcomes, err := sess.svc.Mv(sess.cwd, args.Sources, args.Dest)
	if err != nil {
		return nil, err
	}
	return proto.BatchData{Outcomes: outcomes}, nil
}

func handleRcp(sess *Session, params map[string]any) (any, error) {
	var args proto.MoveParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	outcomes, err := sess.svc.Cp(sess.cwd, args.Sources, args.Dest)
	if err != nil {
		return nil, err
	}
	return proto.BatchData{Outcomes: outcomes}, nil
}

func handleRrm(sess *Session, params map[string]any) (any, error) {
	var args proto.PathsParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	outcomes, err := sess.svc.Rm(sess.cwd, args.Paths)
	if err != nil {
		return nil, err
	}
	return proto.BatchData{Outcomes: outcomes}, nil
}

func handleRfind(sess *Session, params map[string]any) (any, error) {
	var args proto.FindParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Pattern == "" {
		return nil, proto.NewError(proto.ErrInvalidArgument, "missing pattern")
	}
	matches, err := sess.svc.Find(sess.cwd, args.Pattern, args.CaseInsensitive)
	if err != nil {
		return nil, err
	}
	return proto.FindData{Matches: matches}, nil
}

func handleGet(sess *Session, params map[string]any) (any, error) {
	var args proto.GetParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	t, err := transfer.NewGet(sess.svc.Resolver(), sess.cwd, args.Paths, sess.remoteHost, sess.server.tlsConf)
	if err != nil {
		return nil, err
	}
	sess.addTransfer(t)
	t.Start()
	logger.Info("GET transfer created", "session_id", sess.id,
		"transfer_id", t.ID, "port", t.Port())
	return proto.TransferData{TransferID: t.ID, Port: t.Port()}, nil
}

func handlePut(sess *Session, params map[string]any) (any, error) {
	var args proto.PutParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	policy, err := proto.ParsePolicy(string(args.Policy))
	if err != nil {
		return nil, err
	}
	t, err := transfer.NewPut(sess.svc.Resolver(), sess.cwd, policy, sess.remoteHost, sess.server.tlsConf)
	if err != nil {
		return nil, err
	}
	sess.addTransfer(t)
	t.Start()
	logger.Info("PUT transfer created", "session_id", sess.id,
		"transfer_id", t.ID, "port", t.Port(), "policy", policy)
	return proto.TransferData{TransferID: t.ID, Port: t.Port()}, nil
}

func handlePutDecision(sess *Session, params map[string]any) (any, error) {
	var args proto.PutDecisionParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	t, err := sess.findTransfer(args.TransferID)
	if err != nil {
		return nil, err
	}
	return nil, t.Decide(args.FileID, args.Accept)
}

func handleRexec(sess *Session, params map[string]any) (any, error) {
	if !sess.server.cfg.Rexec {
		return nil, proto.NewError(proto.ErrRexecDisabled, "rexec is disabled")
	}
	var args proto.RexecParams
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if args.Cmd == "" {
		return nil, proto.NewError(proto.ErrInvalidArgument, "missing cmd")
	}
	e, err := rexec.New(args.Cmd, sess.remoteHost, sess.server.tlsConf)
	if err != nil {
		return nil, err
	}
	sess.addRexec(e)
	e.Start()
	logger.Info("Rexec endpoint created", "session_id", sess.id, "port", e.Port())
	return proto.RexecData{Port: e.Port()}, nil
}

func handleRshell(sess *Session, _ map[string]any) (any, error) {
	if !sess.server.cfg.Rexec {
		return nil, proto.NewError(proto.ErrRexecDisabled, "rexec is disabled")
	}
	e, err := rexec.NewShell(sess.remoteHost, sess.server.tlsConf)
	if err != nil {
		return nil, err
	}
	sess.addRexec(e)
	e.Start()
	logger.Info("Rshell endpoint created", "session_id", sess.id, "port", e.Port())
	return proto.RexecData{Port: e.Port()}, nil
}
