package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tomhenderson/epidemic-routing/helper"
)

func enableCors(w *http.ResponseWriter) {
	(*w).Header().Set("Access-Control-Allow-Origin", "*")
}

//bufferHandler reports the node's current summary vector as a JSON list of
//"sourceLow16:counter" global packet IDs.
func bufferHandler(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, request *http.Request) {
		enableCors(&w)
		switch request.Method {
		case "GET":
			var ids []uint32
			n.st.Call(func() {
				ids = append(ids, n.agent.SummaryVector().IDs()...)
			})
			entries := make([]string, 0, len(ids))
			for _, id := range ids {
				entries = append(entries, fmt.Sprintf("%d:%d", id>>16, id&0xFFFF))
			}
			jsonValue, err := json.Marshal(entries)
			if err == nil {
				w.WriteHeader(http.StatusOK)
				w.Write(jsonValue)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

//addressHandler reports the node's main address.
func addressHandler(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, request *http.Request) {
		enableCors(&w)
		switch request.Method {
		case "GET":
			var mainAddress string
			n.st.Call(func() {
				mainAddress = n.agent.MainAddress().String()
			})
			jsonValue, err := json.Marshal(mainAddress)
			if err == nil {
				w.WriteHeader(http.StatusOK)
				w.Write(jsonValue)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func statusServer(n *node, port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/buffer", bufferHandler(n))
	mux.HandleFunc("/address", addressHandler(n))
	helper.LogError(http.ListenAndServe("127.0.0.1:"+port, mux))
}
