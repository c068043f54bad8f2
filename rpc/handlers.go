package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dataspace/crypto"
	"dataspace/native/accounts"
)

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathAccount(r *http.Request, name string) ([20]byte, error) {
	addr, err := crypto.ParseAccount(chi.URLParam(r, name))
	if err != nil {
		return addr, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return addr, nil
}

func pathOrder(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "order"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: order id: %v", errBadRequest, err)
	}
	return id, nil
}

// caller is set by the authenticator on every mutating route.
func caller(r *http.Request) [20]byte {
	addr, _ := CallerFromContext(r.Context())
	return addr
}

func badRequest(w http.ResponseWriter, err error) {
	writeErrorStatus(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	kind, err := accounts.ParseKind(req.Type)
	if err != nil {
		badRequest(w, err)
		return
	}
	profile, err := s.backend.RegisterAccount(r.Context(), caller(r), req.Name, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profileFrom(profile))
}

func (s *Server) handlePublishOrder(w http.ResponseWriter, r *http.Request) {
	var req publishOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	reference, err := decodeBytes(req.Reference)
	if err != nil {
		badRequest(w, fmt.Errorf("%w: reference: %v", errBadRequest, err))
		return
	}
	price, ok := parseAmount(req.UnitPrice)
	if !ok {
		badRequest(w, fmt.Errorf("%w: unitPrice must be a decimal integer", errBadRequest))
		return
	}
	id, err := s.backend.PublishOrder(r.Context(), caller(r), req.Name, reference, price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, publishOrderResponse{OrderID: id})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	company, err := pathAccount(r, "company")
	if err != nil {
		badRequest(w, err)
		return
	}
	orders, err := s.backend.Orders(company)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderJSON, 0, len(orders))
	for _, order := range orders {
		out = append(out, orderFrom(order))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeDataRequest(r *http.Request) (*dataRequest, []byte, [20]byte, error) {
	var req dataRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, nil, [20]byte{}, err
	}
	payload, err := decodeBytes(req.Payload)
	if err != nil {
		return nil, nil, [20]byte{}, fmt.Errorf("%w: payload: %v", errBadRequest, err)
	}
	company, err := crypto.ParseAccount(req.Company)
	if err != nil {
		return nil, nil, [20]byte{}, fmt.Errorf("%w: company: %v", errBadRequest, err)
	}
	return &req, payload, company, nil
}

func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	req, payload, company, err := s.decodeDataRequest(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	meta, err := s.backend.UploadData(r.Context(), caller(r), req.Name, payload, company, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, metadataFrom(meta))
}

func (s *Server) handleUpdateData(w http.ResponseWriter, r *http.Request) {
	req, payload, company, err := s.decodeDataRequest(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	meta, err := s.backend.UpdateData(r.Context(), caller(r), req.Name, payload, company, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metadataFrom(meta))
}

func (s *Server) handleListData(w http.ResponseWriter, r *http.Request) {
	person, err := pathAccount(r, "person")
	if err != nil {
		badRequest(w, err)
		return
	}
	rows, err := s.backend.ListData(person)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]metadataJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, metadataFrom(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFindData(w http.ResponseWriter, r *http.Request) {
	person, err := pathAccount(r, "person")
	if err != nil {
		badRequest(w, err)
		return
	}
	company, err := pathAccount(r, "company")
	if err != nil {
		badRequest(w, err)
		return
	}
	orderID, err := pathOrder(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	meta, ok, err := s.backend.FindData(person, company, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeErrorStatus(w, http.StatusNotFound, "metadata not found")
		return
	}
	writeJSON(w, http.StatusOK, metadataFrom(meta))
}

func (s *Server) decodeEscrowRequest(w http.ResponseWriter, r *http.Request) ([20]byte, uint64, bool) {
	var req escrowRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return [20]byte{}, 0, false
	}
	person, err := crypto.ParseAccount(req.Person)
	if err != nil {
		badRequest(w, fmt.Errorf("%w: person: %v", errBadRequest, err))
		return [20]byte{}, 0, false
	}
	return person, req.OrderID, true
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	person, orderID, ok := s.decodeEscrowRequest(w, r)
	if !ok {
		return
	}
	deal, err := s.backend.Buy(r.Context(), caller(r), person, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dealFrom(deal))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	person, orderID, ok := s.decodeEscrowRequest(w, r)
	if !ok {
		return
	}
	if err := s.backend.Confirm(r.Context(), caller(r), person, orderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTipOff(w http.ResponseWriter, r *http.Request) {
	person, orderID, ok := s.decodeEscrowRequest(w, r)
	if !ok {
		return
	}
	verdict, err := s.backend.TipOff(r.Context(), caller(r), person, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tipOffResponse{Verdict: verdict})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	person, err := pathAccount(r, "person")
	if err != nil {
		badRequest(w, err)
		return
	}
	company, err := pathAccount(r, "company")
	if err != nil {
		badRequest(w, err)
		return
	}
	orderID, err := pathOrder(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	data, err := s.backend.Download(r.Context(), caller(r), person, company, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payloadJSON{Payload: encodeBytes(data)})
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	company, err := pathAccount(r, "company")
	if err != nil {
		badRequest(w, err)
		return
	}
	person, err := pathAccount(r, "person")
	if err != nil {
		badRequest(w, err)
		return
	}
	orderID, err := pathOrder(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	deal, ok, err := s.backend.Deal(company, person, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeErrorStatus(w, http.StatusNotFound, "deal not found")
		return
	}
	writeJSON(w, http.StatusOK, dealFrom(deal))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAccount(r, "addr")
	if err != nil {
		badRequest(w, err)
		return
	}
	view, err := s.backend.Account(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountFrom(addr, view))
}
