// Package gateway monta as rotas HTTP do gateway de swap.
//
// Cada rota tem uma RoutePolicy: se passa pela admissão por quota e qual política
// de retry usa contra o upstream. Rotas novas entram na admissão só mudando a política,
// sem duplicar código.
package gateway
