/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tribler/dispersy/common/flogging/httpadmin"
	"github.com/tribler/dispersy/dispersy/common"
)

// CommunityInfo is the /communities/{cid} response.
type CommunityInfo struct {
	CID            string `json:"cid"`
	Classification string `json:"classification"`
	State          string `json:"state"`
	GlobalTime     uint64 `json:"global_time"`
	Candidates     int    `json:"candidates"`
}

func (n *Node) operationsHandler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	httpadmin.NewSpecHandler().Register(router, "/logspec")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/statistics", n.serveStatistics).Methods(http.MethodGet)
	router.HandleFunc("/communities/{cid}", n.serveCommunity).Methods(http.MethodGet)
	return router
}

func (n *Node) serveStatistics(w http.ResponseWriter, r *http.Request) {
	httpadmin.WriteJSON(w, http.StatusOK, n.Dispersy.Statistics())
}

// serveCommunity reads the community on the event loop.
func (n *Node) serveCommunity(w http.ResponseWriter, r *http.Request) {
	cid, err := common.CIDFromHex(mux.Vars(r)["cid"])
	if err != nil {
		httpadmin.WriteJSON(w, http.StatusBadRequest, err)
		return
	}

	result := make(chan *CommunityInfo, 1)
	n.sched.Post(func() {
		c, ok := n.Dispersy.Community(cid)
		if !ok {
			result <- nil
			return
		}
		info := &CommunityInfo{
			CID:            c.CID().String(),
			Classification: c.Classification(),
			State:          c.State().String(),
			GlobalTime:     c.GlobalTime(),
		}
		if cands, err := c.Candidates(); err == nil {
			info.Candidates = len(cands)
		}
		result <- info
	})

	select {
	case info := <-result:
		if info == nil {
			httpadmin.WriteJSON(w, http.StatusNotFound, errors.Errorf("unknown community %s", cid))
			return
		}
		httpadmin.WriteJSON(w, http.StatusOK, info)
	case <-r.Context().Done():
	}
}
