// Package domain define contratos e tipos de domínio para admissão (quota por janela)
// e limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros (relógio controlado, store isolado
// por teste) e desacoplar regras de negócio de detalhes de infraestrutura.
package domain
